package reportstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wolfitem/rust-daily/internal/domain/model"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
)

// Granularity 决定报告文件名的时间粒度
type Granularity int

const (
	// GranularityDay 按天命名（同一天的多次手动运行会互相覆盖）
	GranularityDay Granularity = iota
	// GranularityMinute 按分钟命名（定时任务一天多次运行使用）
	GranularityMinute
)

const (
	// MaxLoadLimit 单次加载报告的数量上限
	MaxLoadLimit = 50
	// DefaultLoadLimit 未指定limit时的默认数量
	DefaultLoadLimit = 10
)

// Store 管理报告目录，按时间戳命名的JSON文件平铺存放。
// 流水线是唯一写入方，发布服务只读。
type Store struct {
	dir string
}

// NewStore 创建报告存储，目录不存在时自动创建
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建报告目录失败: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir 返回报告目录路径
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) filename(report *model.DailyReport, granularity Granularity) string {
	layout := "2006-01-02"
	if granularity == GranularityMinute {
		layout = "2006-01-02-1504"
	}
	return report.Date.UTC().Format(layout) + ".json"
}

// Save 将报告持久化为格式化JSON文件
func (s *Store) Save(report *model.DailyReport, granularity Granularity) error {
	content, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}

	path := filepath.Join(s.dir, s.filename(report, granularity))
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("保存报告失败: %w", err)
	}

	logger.Info("报告已保存", "file", path, "items_count", len(report.Items))
	return nil
}

// LoadRecent 按文件名倒序（即时间倒序）加载最近的报告。
// limit 超过上限时截断到上限，小于等于0时使用默认值；
// 单个损坏的报告文件记录警告后跳过，不影响整体结果。
func (s *Store) LoadRecent(limit int) ([]model.DailyReport, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.DailyReport{}, nil
		}
		return nil, fmt.Errorf("读取报告目录失败: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit <= 0 {
		limit = DefaultLoadLimit
	}
	if limit > MaxLoadLimit {
		limit = MaxLoadLimit
	}
	if len(names) > limit {
		names = names[:limit]
	}

	reports := make([]model.DailyReport, 0, len(names))
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			// 列举与读取之间文件可能被移除，按尽力而为处理
			logger.Warn("读取报告文件失败", "file", path, "error", err)
			continue
		}

		var report model.DailyReport
		if err := json.Unmarshal(content, &report); err != nil {
			logger.Warn("解析报告文件失败", "file", path, "error", err)
			continue
		}
		reports = append(reports, report)
	}

	return reports, nil
}
