package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wolfitem/rust-daily/internal/domain/model"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
)

// ProcessedItem 表示一条已处理的历史记录
type ProcessedItem struct {
	ID          string    `json:"id"`           // 条目指纹（链接+标题哈希）
	Title       string    `json:"title"`        // 新闻标题
	URL         string    `json:"url"`          // 新闻链接
	ProcessedAt time.Time `json:"processed_at"` // 处理时间（UTC）
	Source      string    `json:"source"`       // 来源名称
}

// ProcessingHistory 表示历史账本的完整状态
type ProcessingHistory struct {
	Items       []ProcessedItem `json:"items"`
	LastCleanup *time.Time      `json:"last_cleanup,omitempty"`
}

// Manager 负责历史账本的加载、查询与持久化。
// 账本由单个进程独占持有，所有变更操作都会整体重写备份文件。
type Manager struct {
	historyFile string
	history     ProcessingHistory
}

// DefaultFilePath 返回默认的历史记录文件路径（用户目录下 .rust-daily）
func DefaultFilePath() string {
	base, err := os.UserHomeDir()
	if err != nil {
		base, _ = os.Getwd()
	}
	return filepath.Join(base, ".rust-daily", "processing_history.json")
}

// NewManager 创建历史记录管理器并加载现有账本
func NewManager(historyFile string) (*Manager, error) {
	if historyFile == "" {
		historyFile = DefaultFilePath()
	}

	if err := os.MkdirAll(filepath.Dir(historyFile), 0755); err != nil {
		return nil, fmt.Errorf("创建历史记录目录失败: %w", err)
	}

	m := &Manager{historyFile: historyFile}
	m.load()
	return m, nil
}

// load 读取账本文件；文件缺失或损坏时退化为空账本，不阻塞启动
func (m *Manager) load() {
	content, err := os.ReadFile(m.historyFile)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("历史记录文件不存在，创建新的记录", "file", m.historyFile)
		} else {
			logger.Warn("读取历史记录文件失败，使用空记录", "file", m.historyFile, "error", err)
		}
		m.history = ProcessingHistory{}
		return
	}

	var history ProcessingHistory
	if err := json.Unmarshal(content, &history); err != nil {
		logger.Warn("历史记录文件损坏，使用空记录", "file", m.historyFile, "error", err)
		m.history = ProcessingHistory{}
		return
	}

	m.history = history
	logger.Info("加载历史记录", "items_count", len(history.Items))
}

// save 将整个账本写回文件
func (m *Manager) save() error {
	content, err := json.MarshalIndent(m.history, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化历史记录失败: %w", err)
	}
	if err := os.WriteFile(m.historyFile, content, 0644); err != nil {
		return fmt.Errorf("保存历史记录失败: %w", err)
	}
	logger.Debug("保存历史记录", "file", m.historyFile, "items_count", len(m.history.Items))
	return nil
}

// ItemID 生成新闻条目的唯一指纹（链接拼接标题的SHA-256）
func ItemID(item model.NewsItem) string {
	sum := sha256.Sum256([]byte(item.Link + item.Title))
	return hex.EncodeToString(sum[:])
}

// FilterUnprocessed 过滤掉已处理的新闻条目，不修改账本状态
func (m *Manager) FilterUnprocessed(items []model.NewsItem) []model.NewsItem {
	processedIDs := make(map[string]struct{}, len(m.history.Items))
	for _, item := range m.history.Items {
		processedIDs[item.ID] = struct{}{}
	}

	filtered := make([]model.NewsItem, 0, len(items))
	for _, item := range items {
		if _, ok := processedIDs[ItemID(item)]; !ok {
			filtered = append(filtered, item)
		}
	}

	if dup := len(items) - len(filtered); dup > 0 {
		logger.Info("过滤掉已处理的重复新闻", "duplicate_count", dup, "remaining", len(filtered))
	} else {
		logger.Info("没有发现重复新闻", "count", len(filtered))
	}

	return filtered
}

// MarkProcessed 将条目标记为已处理并持久化账本
func (m *Manager) MarkProcessed(items []model.NewsItem) error {
	now := time.Now().UTC()

	for _, item := range items {
		m.history.Items = append(m.history.Items, ProcessedItem{
			ID:          ItemID(item),
			Title:       item.Title,
			URL:         item.Link,
			ProcessedAt: now,
			Source:      item.Source,
		})
	}

	logger.Info("标记新闻为已处理", "count", len(items))
	return m.save()
}

// CleanupOlderThan 清理超过指定天数的历史记录，返回删除数量。
// 仅在确有删除时写回文件并更新清理时间。
func (m *Manager) CleanupOlderThan(daysToKeep int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	originalCount := len(m.history.Items)

	kept := m.history.Items[:0]
	for _, item := range m.history.Items {
		if !item.ProcessedAt.Before(cutoff) {
			kept = append(kept, item)
		}
	}
	m.history.Items = kept

	removed := originalCount - len(m.history.Items)
	if removed > 0 {
		now := time.Now().UTC()
		m.history.LastCleanup = &now
		if err := m.save(); err != nil {
			return 0, err
		}
		logger.Info("清理过期历史记录", "removed_count", removed, "days_to_keep", daysToKeep)
	}

	return removed, nil
}

// Stats 返回历史记录统计信息
func (m *Manager) Stats() model.HistoryStats {
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := now.AddDate(0, 0, -7)

	var todayCount, weekCount int
	sources := make(map[string]struct{})
	var oldest *time.Time

	for i := range m.history.Items {
		item := &m.history.Items[i]
		if !item.ProcessedAt.Before(todayStart) {
			todayCount++
		}
		if !item.ProcessedAt.Before(weekStart) {
			weekCount++
		}
		sources[item.Source] = struct{}{}
		if oldest == nil || item.ProcessedAt.Before(*oldest) {
			t := item.ProcessedAt
			oldest = &t
		}
	}

	return model.HistoryStats{
		TotalProcessed: len(m.history.Items),
		TodayProcessed: todayCount,
		WeekProcessed:  weekCount,
		UniqueSources:  len(sources),
		LastCleanup:    m.history.LastCleanup,
		OldestRecord:   oldest,
	}
}

// Search 按标题、来源、链接进行大小写不敏感的子串匹配
func (m *Manager) Search(query string) []ProcessedItem {
	queryLower := strings.ToLower(query)

	var matched []ProcessedItem
	for _, item := range m.history.Items {
		if strings.Contains(strings.ToLower(item.Title), queryLower) ||
			strings.Contains(strings.ToLower(item.Source), queryLower) ||
			strings.Contains(strings.ToLower(item.URL), queryLower) {
			matched = append(matched, item)
		}
	}
	return matched
}

// ClearAll 清空所有历史记录并持久化
func (m *Manager) ClearAll() error {
	count := len(m.history.Items)
	m.history = ProcessingHistory{}
	if err := m.save(); err != nil {
		return err
	}
	logger.Info("清空所有历史记录", "cleared_count", count)
	return nil
}
