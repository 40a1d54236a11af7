package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfitem/rust-daily/internal/domain/model"
	"github.com/wolfitem/rust-daily/internal/infrastructure/history"
	"github.com/wolfitem/rust-daily/internal/infrastructure/reportstore"
)

// fakeFeeds 按URL返回预置的条目或错误
type fakeFeeds struct {
	itemsByURL map[string][]model.NewsItem
	errByURL   map[string]error
}

func (f *fakeFeeds) FetchNews(ctx context.Context, url string, days int) ([]model.NewsItem, error) {
	if err, ok := f.errByURL[url]; ok {
		return nil, err
	}
	return f.itemsByURL[url], nil
}

func (f *fakeFeeds) ParseOpml(path string) ([]model.RssSource, error) {
	return nil, errors.New("not implemented")
}

// fakeSummarizer 返回固定文本，可配置为失败
type fakeSummarizer struct {
	failItem      bool
	itemCalls     int
	batchCalls    int
	overviewCalls int
}

func (f *fakeSummarizer) SummarizeItem(ctx context.Context, item model.NewsItem) (string, error) {
	f.itemCalls++
	if f.failItem {
		return "", errors.New("API不可用")
	}
	return "摘要: " + item.Title, nil
}

func (f *fakeSummarizer) SummarizeBatch(ctx context.Context, items []model.NewsItem) (string, error) {
	f.batchCalls++
	return fmt.Sprintf("批量摘要，共%d条", len(items)), nil
}

func (f *fakeSummarizer) SummarizeOverview(ctx context.Context, items []model.NewsItem) (string, error) {
	f.overviewCalls++
	return "今日概览", nil
}

// fakeStore 记录保存的报告及其粒度，可在保存时执行回调
type fakeStore struct {
	saved         []*model.DailyReport
	granularities []reportstore.Granularity
	onSave        func(*model.DailyReport)
	err           error
}

func (f *fakeStore) Save(report *model.DailyReport, granularity reportstore.Granularity) error {
	if f.err != nil {
		return f.err
	}
	if f.onSave != nil {
		f.onSave(report)
	}
	f.saved = append(f.saved, report)
	f.granularities = append(f.granularities, granularity)
	return nil
}

// fakeCache 预置命中条目的摘要缓存
type fakeCache struct {
	entries map[string]*model.SummaryCacheEntry
	savedFP []string
}

func (f *fakeCache) GetByFingerprint(fp string) (*model.SummaryCacheEntry, error) {
	return f.entries[fp], nil
}

func (f *fakeCache) Save(entry model.SummaryCacheEntry) error {
	f.savedFP = append(f.savedFP, entry.Fingerprint)
	return nil
}

func (f *fakeCache) DeleteOlderThan(days int) (int64, error) { return 0, nil }
func (f *fakeCache) Count() (int64, error)                   { return 0, nil }

func newTestLedger(t *testing.T) *history.Manager {
	t.Helper()
	m, err := history.NewManager(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)
	return m
}

func pipelineNews(title string) model.NewsItem {
	return model.NewsItem{Title: title, Link: "https://example.com/" + title, Description: "desc"}
}

func newPipeline(t *testing.T, feeds *fakeFeeds, summarizer *fakeSummarizer, store *fakeStore) (*DailyService, *history.Manager) {
	t.Helper()
	ledger := newTestLedger(t)
	daily := NewDailyService(DailyServiceDeps{
		Sources: []model.RssSource{
			{Name: "Rust Blog", URL: "https://blog/feed"},
			{Name: "This Week in Rust", URL: "https://twir/feed"},
		},
		Feeds:      feeds,
		Summarizer: summarizer,
		History:    ledger,
		Store:      store,
	})
	return daily, ledger
}

func TestRunGeneratesReport(t *testing.T) {
	feeds := &fakeFeeds{itemsByURL: map[string][]model.NewsItem{
		"https://blog/feed": {pipelineNews("news-1")},
		"https://twir/feed": {pipelineNews("news-2")},
	}}
	summarizer := &fakeSummarizer{}
	store := &fakeStore{}
	daily, ledger := newPipeline(t, feeds, summarizer, store)

	result, err := daily.Run(context.Background(), RunOptions{Days: 1, BatchMode: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, result.Outcome)
	require.NotNil(t, result.Report)
	require.Len(t, store.saved, 1)

	// 摘要末尾追加了署名
	assert.Contains(t, result.Report.Summary, "From 日报小组")
	// 来源已由流水线写入
	for _, item := range result.Report.Items {
		assert.NotEmpty(t, item.Source)
	}
	// 已写入历史账本
	assert.Equal(t, 2, ledger.Stats().TotalProcessed)
}

func TestRunNoContent(t *testing.T) {
	feeds := &fakeFeeds{errByURL: map[string]error{
		"https://blog/feed": errors.New("连接超时"),
		"https://twir/feed": errors.New("503"),
	}}
	store := &fakeStore{}
	daily, ledger := newPipeline(t, feeds, &fakeSummarizer{}, store)

	result, err := daily.Run(context.Background(), RunOptions{Days: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoContent, result.Outcome)
	assert.Nil(t, result.Report)
	assert.Empty(t, store.saved)
	assert.Equal(t, 0, ledger.Stats().TotalProcessed)
}

func TestRunNothingNew(t *testing.T) {
	items := []model.NewsItem{pipelineNews("news-1")}
	feeds := &fakeFeeds{itemsByURL: map[string][]model.NewsItem{
		"https://blog/feed": items,
	}}
	store := &fakeStore{}
	daily, ledger := newPipeline(t, feeds, &fakeSummarizer{}, store)

	// 预先标记为已处理（来源与流水线打标后一致）
	stamped := items[0].Clone()
	stamped.Source = "Rust Blog"
	require.NoError(t, ledger.MarkProcessed([]model.NewsItem{stamped}))

	result, err := daily.Run(context.Background(), RunOptions{Days: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingNew, result.Outcome)
	assert.Empty(t, store.saved)
}

func TestRunSummarizerFailureLeavesNoTrace(t *testing.T) {
	feeds := &fakeFeeds{itemsByURL: map[string][]model.NewsItem{
		"https://blog/feed": {pipelineNews("news-1")},
	}}
	summarizer := &fakeSummarizer{failItem: true}
	store := &fakeStore{}
	daily, ledger := newPipeline(t, feeds, summarizer, store)

	_, err := daily.Run(context.Background(), RunOptions{Days: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSummarization))

	// 失败的运行不落盘也不记账
	assert.Empty(t, store.saved)
	assert.Equal(t, 0, ledger.Stats().TotalProcessed)
}

func TestRunMarksBeforeSave(t *testing.T) {
	items := []model.NewsItem{pipelineNews("news-1")}
	feeds := &fakeFeeds{itemsByURL: map[string][]model.NewsItem{
		"https://blog/feed": items,
	}}

	var ledger *history.Manager
	store := &fakeStore{}
	store.onSave = func(report *model.DailyReport) {
		// 保存报告时账本必须已经更新
		assert.Equal(t, 1, ledger.Stats().TotalProcessed)
	}

	daily, l := newPipeline(t, feeds, &fakeSummarizer{}, store)
	ledger = l

	result, err := daily.Run(context.Background(), RunOptions{Days: 1, BatchMode: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, result.Outcome)
	require.Len(t, store.saved, 1)
}

func TestRunForceModeSkipsLedger(t *testing.T) {
	items := []model.NewsItem{pipelineNews("news-1")}
	feeds := &fakeFeeds{itemsByURL: map[string][]model.NewsItem{
		"https://blog/feed": items,
	}}
	store := &fakeStore{}
	daily, ledger := newPipeline(t, feeds, &fakeSummarizer{}, store)

	stamped := items[0].Clone()
	stamped.Source = "Rust Blog"
	require.NoError(t, ledger.MarkProcessed([]model.NewsItem{stamped}))

	// 强制模式无视历史，也不新增记录
	result, err := daily.Run(context.Background(), RunOptions{Days: 1, ForceMode: true, BatchMode: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, result.Outcome)
	assert.Equal(t, 1, ledger.Stats().TotalProcessed)
}

func TestRunSingleModeUsesCache(t *testing.T) {
	item := pipelineNews("news-1")
	stamped := item.Clone()
	stamped.Source = "Rust Blog"

	feeds := &fakeFeeds{itemsByURL: map[string][]model.NewsItem{
		"https://blog/feed": {item},
	}}
	summarizer := &fakeSummarizer{}
	store := &fakeStore{}
	cache := &fakeCache{entries: map[string]*model.SummaryCacheEntry{
		history.ItemID(stamped): {Summary: "缓存的摘要"},
	}}

	ledger := newTestLedger(t)
	daily := NewDailyService(DailyServiceDeps{
		Sources:    []model.RssSource{{Name: "Rust Blog", URL: "https://blog/feed"}},
		Feeds:      feeds,
		Summarizer: summarizer,
		History:    ledger,
		Store:      store,
		Cache:      cache,
	})

	result, err := daily.Run(context.Background(), RunOptions{Days: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, result.Outcome)

	// 缓存命中时不调用逐条摘要API，概览仍会生成
	assert.Equal(t, 0, summarizer.itemCalls)
	assert.Equal(t, 1, summarizer.overviewCalls)
	assert.Contains(t, result.Report.Summary, "缓存的摘要")
}

func TestSortAndLimit(t *testing.T) {
	now := time.Now().UTC()
	older := now.Add(-2 * time.Hour)

	withDate := func(title, source string, date *time.Time) model.NewsItem {
		return model.NewsItem{Title: title, Link: "https://e/" + title, Source: source, PubDate: date}
	}

	items := []model.NewsItem{
		withDate("unlisted", "Random Blog", &now),
		withDate("forum", "Rust Users Forum", &now),
		withDate("twir", "This Week in Rust", &older),
		withDate("blog-old", "Rust Blog", &older),
		withDate("blog-new", "Rust Blog", &now),
		withDate("blog-dateless", "Rust Blog", nil),
	}

	sorted := sortAndLimit(items)
	require.Len(t, sorted, 6)

	titles := make([]string, len(sorted))
	for i, item := range sorted {
		titles[i] = item.Title
	}

	// 来源优先级在前，同源按时间倒序，无日期排同源末尾
	assert.Equal(t, []string{"blog-new", "blog-old", "blog-dateless", "twir", "forum", "unlisted"}, titles)
}

func TestSortAndLimitCap(t *testing.T) {
	var items []model.NewsItem
	for i := 0; i < 25; i++ {
		items = append(items, pipelineNews(fmt.Sprintf("news-%02d", i)))
	}

	sorted := sortAndLimit(items)
	assert.Len(t, sorted, maxReportItems)
	// 截断不打乱剩余条目的稳定顺序
	assert.Equal(t, "news-00", sorted[0].Title)
}

func TestFormatReportText(t *testing.T) {
	report := &model.DailyReport{
		Date:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Summary: "今日概览\n\n摘要内容",
	}

	text := FormatReportText(report)
	assert.Contains(t, text, "【Rust日报】2026-08-01")
	assert.Contains(t, text, "摘要内容")
	assert.Contains(t, text, "From 日报小组 Rust Daily")
	assert.Contains(t, text, "by Rust Daily")

	// 摘要已含署名时不重复追加
	withFooter := &model.DailyReport{
		Date:    report.Date,
		Summary: "内容\n\n--\n\nFrom 日报小组 Rust Daily",
	}
	text = FormatReportText(withFooter)
	assert.Equal(t, 1, strings.Count(text, "From 日报小组"))
}
