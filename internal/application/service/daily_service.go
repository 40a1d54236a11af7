package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wolfitem/rust-daily/internal/domain/model"
	domainservice "github.com/wolfitem/rust-daily/internal/domain/service"
	"github.com/wolfitem/rust-daily/internal/infrastructure/database"
	"github.com/wolfitem/rust-daily/internal/infrastructure/history"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
	"github.com/wolfitem/rust-daily/internal/infrastructure/reportstore"
)

const (
	// maxReportItems 单期日报收录的新闻数量上限
	maxReportItems = 10
	// itemDelay 逐条摘要模式下相邻API调用的间隔，避免限流
	itemDelay = 500 * time.Millisecond
	// fetchConcurrency 并发获取RSS源的数量上限
	fetchConcurrency = 3
	// reportFooter 日报末尾的固定署名
	reportFooter = "\n\n--\n\nFrom 日报小组 Rust Daily"
	// footerMarker 用于判断摘要中是否已包含署名
	footerMarker = "From 日报小组"
)

// 流水线错误类别
var (
	// ErrSummarization 表示摘要生成失败，本次运行不产出报告
	ErrSummarization = errors.New("摘要生成失败")
	// ErrPersist 表示报告持久化失败
	ErrPersist = errors.New("报告保存失败")
)

// RunOutcome 表示一次流水线运行的结果类别
type RunOutcome int

const (
	// OutcomeGenerated 成功生成并保存了日报
	OutcomeGenerated RunOutcome = iota
	// OutcomeNoContent 所有源均未产出任何新闻
	OutcomeNoContent
	// OutcomeNothingNew 有新闻但全部已处理过
	OutcomeNothingNew
)

// RunResult 表示一次流水线运行的结果
type RunResult struct {
	Outcome RunOutcome
	Report  *model.DailyReport
}

// RunOptions 控制单次流水线运行的行为
type RunOptions struct {
	Days        int                     // 时间窗口天数
	ForceMode   bool                    // 强制模式：跳过历史过滤且不写历史
	BatchMode   bool                    // 批量摘要模式（默认逐条）
	Granularity reportstore.Granularity // 报告文件名粒度
}

// HistoryLedger 定义流水线所需的历史账本操作
type HistoryLedger interface {
	FilterUnprocessed(items []model.NewsItem) []model.NewsItem
	MarkProcessed(items []model.NewsItem) error
}

// ReportStore 定义流水线所需的报告存储操作
type ReportStore interface {
	Save(report *model.DailyReport, granularity reportstore.Granularity) error
}

// DailyServiceDeps 注入流水线的全部依赖。
// 历史账本通过显式句柄传入，由单一持有者独占，不使用全局状态。
type DailyServiceDeps struct {
	Sources    []model.RssSource
	Feeds      domainservice.FeedService
	Summarizer domainservice.Summarizer
	History    HistoryLedger
	Store      ReportStore
	Cache      database.SummaryRepository // 可选，nil表示关闭缓存
}

// DailyService 实现日报生成流水线：
// 获取全部源 → 合并 → 历史过滤 → 排序截断 → 摘要 → 记账 → 持久化
type DailyService struct {
	sources    []model.RssSource
	feeds      domainservice.FeedService
	summarizer domainservice.Summarizer
	history    HistoryLedger
	store      ReportStore
	cache      database.SummaryRepository
}

// NewDailyService 创建日报流水线服务
func NewDailyService(deps DailyServiceDeps) *DailyService {
	return &DailyService{
		sources:    deps.Sources,
		feeds:      deps.Feeds,
		summarizer: deps.Summarizer,
		history:    deps.History,
		store:      deps.Store,
		cache:      deps.Cache,
	}
}

// Run 执行一次完整的日报生成。
// 单个源的失败只记录日志并跳过；摘要失败与报告保存失败会中止本次运行。
// 历史记账发生在摘要成功之后、报告保存之前，崩溃最多导致重复处理而非静默丢失。
func (s *DailyService) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	logger.Info("开始生成日报", "sources_count", len(s.sources), "days", opts.Days, "force", opts.ForceMode)
	defer logger.TimeTrack("DailyService.Run")()

	allNews := s.fetchAll(ctx, opts.Days)
	if len(allNews) == 0 {
		logger.Info("未获取到任何新闻")
		return &RunResult{Outcome: OutcomeNoContent}, nil
	}
	logger.Info("新闻获取完成", "total_count", len(allNews))

	freshNews := allNews
	if !opts.ForceMode {
		freshNews = s.history.FilterUnprocessed(allNews)
		if len(freshNews) == 0 {
			logger.Info("所有新闻都已处理过，没有新内容")
			return &RunResult{Outcome: OutcomeNothingNew}, nil
		}
	}

	limited := sortAndLimit(freshNews)

	summary, err := s.summarize(ctx, limited, opts.BatchMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSummarization, err)
	}

	// 确保署名存在
	if !strings.Contains(summary, footerMarker) {
		summary += reportFooter
	}

	report := &model.DailyReport{
		Date:    time.Now().UTC(),
		Items:   limited,
		Summary: summary,
	}

	if !opts.ForceMode {
		if err := s.history.MarkProcessed(limited); err != nil {
			return nil, fmt.Errorf("标记已处理失败: %w", err)
		}
	}

	if err := s.store.Save(report, opts.Granularity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	logger.Info("日报生成完成", "items_count", len(report.Items), "summary_length", len(report.Summary))
	return &RunResult{Outcome: OutcomeGenerated, Report: report}, nil
}

// fetchAll 并发获取全部配置的RSS源并打上来源标签
func (s *DailyService) fetchAll(ctx context.Context, days int) []model.NewsItem {
	var (
		mu      sync.Mutex
		allNews []model.NewsItem
		wg      sync.WaitGroup
	)

	semaphore := make(chan struct{}, fetchConcurrency)

	for _, source := range s.sources {
		wg.Add(1)
		go func(src model.RssSource) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			items, err := s.feeds.FetchNews(ctx, src.URL, days)
			if err != nil {
				// 单个源失败不影响整体运行
				logger.Warn("获取RSS源失败", "source", src.Name, "url", src.URL, "error", err)
				return
			}

			stamped := make([]model.NewsItem, 0, len(items))
			for _, item := range items {
				clone := item.Clone()
				clone.Source = src.Name
				stamped = append(stamped, clone)
			}

			logger.Info("获取RSS源成功", "source", src.Name, "items_count", len(stamped))

			mu.Lock()
			allNews = append(allNews, stamped...)
			mu.Unlock()
		}(source)
	}

	wg.Wait()
	return allNews
}

// sourcePriorityOf 返回来源的固定优先级，未知来源统一排最后
func sourcePriorityOf(source string) int {
	switch source {
	case "Rust Blog":
		return 0
	case "This Week in Rust":
		return 1
	case "Rust Internals":
		return 2
	case "Rust Users Forum":
		return 3
	default:
		return 4
	}
}

// sortAndLimit 按来源优先级和发布时间排序，并截断到收录上限。
// 有日期的条目排在无日期之前，日期相同来源相同的保持稳定顺序。
func sortAndLimit(items []model.NewsItem) []model.NewsItem {
	sorted := make([]model.NewsItem, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]

		pa, pb := sourcePriorityOf(a.Source), sourcePriorityOf(b.Source)
		if pa != pb {
			return pa < pb
		}

		switch {
		case a.PubDate != nil && b.PubDate != nil:
			return a.PubDate.After(*b.PubDate)
		case a.PubDate != nil:
			return true
		case b.PubDate != nil:
			return false
		default:
			return false
		}
	})

	if len(sorted) > maxReportItems {
		sorted = sorted[:maxReportItems]
	}
	return sorted
}

// summarize 生成最终摘要文本，批量模式一次调用，逐条模式为每条新闻
// 单独生成摘要并在开头加上总体概览
func (s *DailyService) summarize(ctx context.Context, items []model.NewsItem, batchMode bool) (string, error) {
	if batchMode {
		logger.Info("使用批量处理模式，生成整体摘要", "items_count", len(items))
		return s.summarizer.SummarizeBatch(ctx, items)
	}

	logger.Info("使用单条处理模式，生成详细摘要", "items_count", len(items))

	itemSummaries := make([]string, 0, len(items))
	for i, item := range items {
		logger.Info("正在处理新闻", "index", i+1, "total", len(items), "title", item.Title)

		itemSummary, cached, err := s.summarizeOne(ctx, item)
		if err != nil {
			return "", err
		}
		itemSummaries = append(itemSummaries, itemSummary)

		// 在相邻API调用之间加入小延迟，缓存命中时无需等待
		if !cached && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(itemDelay):
			}
		}
	}

	overview, err := s.summarizer.SummarizeOverview(ctx, items)
	if err != nil {
		return "", err
	}

	var content strings.Builder
	content.WriteString(overview)
	content.WriteString("\n\n")
	for _, itemSummary := range itemSummaries {
		content.WriteString(itemSummary)
		content.WriteString("\n\n")
	}

	return strings.TrimRight(content.String(), "\n"), nil
}

// summarizeOne 生成单条新闻摘要，优先使用缓存；返回是否命中缓存
func (s *DailyService) summarizeOne(ctx context.Context, item model.NewsItem) (string, bool, error) {
	fingerprint := history.ItemID(item)

	if s.cache != nil {
		entry, err := s.cache.GetByFingerprint(fingerprint)
		if err != nil {
			logger.Warn("查询摘要缓存失败", "title", item.Title, "error", err)
		} else if entry != nil {
			logger.Info("摘要缓存命中", "title", item.Title)
			return entry.Summary, true, nil
		}
	}

	itemSummary, err := s.summarizer.SummarizeItem(ctx, item)
	if err != nil {
		return "", false, err
	}

	if s.cache != nil {
		saveErr := s.cache.Save(model.SummaryCacheEntry{
			Fingerprint: fingerprint,
			Title:       item.Title,
			Summary:     itemSummary,
			Source:      item.Source,
		})
		if saveErr != nil {
			logger.Warn("写入摘要缓存失败", "title", item.Title, "error", saveErr)
		}
	}

	return itemSummary, false, nil
}

// FormatReportText 将日报渲染为命令行输出的文本格式
func FormatReportText(report *model.DailyReport) string {
	var output strings.Builder

	output.WriteString(fmt.Sprintf("【Rust日报】%s \n\n", report.Date.Format("2006-01-02")))
	output.WriteString(report.Summary)

	if !strings.Contains(report.Summary, footerMarker) {
		output.WriteString(reportFooter)
		output.WriteString("\n")
	}

	output.WriteString(fmt.Sprintf("\n\n*Generated at %s by Rust Daily*\n",
		time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))

	return output.String()
}
