package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfitem/rust-daily/internal/domain/model"
)

func tempHistoryFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "history.json")
}

func newsItem(title, link, source string) model.NewsItem {
	return model.NewsItem{Title: title, Link: link, Source: source}
}

func TestItemIDStable(t *testing.T) {
	a := newsItem("Rust 1.80", "https://example.com/1", "Rust Blog")
	b := newsItem("Rust 1.80", "https://example.com/1", "Other Source")

	// 指纹只依赖链接和标题，来源不同不影响
	assert.Equal(t, ItemID(a), ItemID(b))
	assert.Len(t, ItemID(a), 64)

	c := newsItem("Rust 1.81", "https://example.com/1", "Rust Blog")
	assert.NotEqual(t, ItemID(a), ItemID(c))
}

func TestFilterUnprocessedAfterMark(t *testing.T) {
	file := tempHistoryFile(t)
	m, err := NewManager(file)
	require.NoError(t, err)

	items := []model.NewsItem{
		newsItem("news-1", "https://example.com/1", "Rust Blog"),
		newsItem("news-2", "https://example.com/2", "Rust Blog"),
	}

	// 未标记前全部视为新条目，且不修改账本
	fresh := m.FilterUnprocessed(items)
	assert.Len(t, fresh, 2)
	fresh = m.FilterUnprocessed(items)
	assert.Len(t, fresh, 2)

	require.NoError(t, m.MarkProcessed(items[:1]))

	fresh = m.FilterUnprocessed(items)
	require.Len(t, fresh, 1)
	assert.Equal(t, "news-2", fresh[0].Title)
}

func TestMarkProcessedPersists(t *testing.T) {
	file := tempHistoryFile(t)

	m1, err := NewManager(file)
	require.NoError(t, err)
	require.NoError(t, m1.MarkProcessed([]model.NewsItem{
		newsItem("news-1", "https://example.com/1", "Rust Blog"),
	}))

	// 重新加载后历史依然生效
	m2, err := NewManager(file)
	require.NoError(t, err)
	fresh := m2.FilterUnprocessed([]model.NewsItem{
		newsItem("news-1", "https://example.com/1", "Rust Blog"),
	})
	assert.Empty(t, fresh)
}

func TestCorruptFileFallsBackToEmpty(t *testing.T) {
	file := tempHistoryFile(t)
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0644))

	m, err := NewManager(file)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 0, stats.TotalProcessed)
}

func TestCleanupOlderThan(t *testing.T) {
	file := tempHistoryFile(t)
	m, err := NewManager(file)
	require.NoError(t, err)

	old := time.Now().UTC().AddDate(0, 0, -40)
	m.history.Items = []ProcessedItem{
		{ID: "old", Title: "old news", ProcessedAt: old, Source: "Rust Blog"},
		{ID: "new", Title: "new news", ProcessedAt: time.Now().UTC(), Source: "Rust Blog"},
	}

	removed, err := m.CleanupOlderThan(30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalProcessed)
	require.NotNil(t, stats.LastCleanup)

	// 再次清理没有可删条目，不报错也不更新
	removed, err = m.CleanupOlderThan(30)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestStats(t *testing.T) {
	file := tempHistoryFile(t)
	m, err := NewManager(file)
	require.NoError(t, err)

	now := time.Now().UTC()
	m.history.Items = []ProcessedItem{
		{ID: "a", ProcessedAt: now, Source: "Rust Blog"},
		{ID: "b", ProcessedAt: now.AddDate(0, 0, -3), Source: "This Week in Rust"},
		{ID: "c", ProcessedAt: now.AddDate(0, 0, -20), Source: "Rust Blog"},
	}

	stats := m.Stats()
	assert.Equal(t, 3, stats.TotalProcessed)
	assert.Equal(t, 1, stats.TodayProcessed)
	assert.Equal(t, 2, stats.WeekProcessed)
	assert.Equal(t, 2, stats.UniqueSources)
	require.NotNil(t, stats.OldestRecord)
	assert.WithinDuration(t, now.AddDate(0, 0, -20), *stats.OldestRecord, time.Second)
}

func TestSearch(t *testing.T) {
	file := tempHistoryFile(t)
	m, err := NewManager(file)
	require.NoError(t, err)

	require.NoError(t, m.MarkProcessed([]model.NewsItem{
		newsItem("Tokio 1.40 released", "https://tokio.rs/blog", "Rust Blog"),
		newsItem("Serde tricks", "https://example.com/serde", "This Week in Rust"),
	}))

	assert.Len(t, m.Search("TOKIO"), 1)
	assert.Len(t, m.Search("this week"), 1)
	assert.Len(t, m.Search("example.com"), 1)
	assert.Empty(t, m.Search("python"))
}

func TestClearAll(t *testing.T) {
	file := tempHistoryFile(t)
	m, err := NewManager(file)
	require.NoError(t, err)

	require.NoError(t, m.MarkProcessed([]model.NewsItem{
		newsItem("news-1", "https://example.com/1", "Rust Blog"),
	}))
	require.NoError(t, m.ClearAll())

	assert.Equal(t, 0, m.Stats().TotalProcessed)

	// 清空后状态已持久化
	m2, err := NewManager(file)
	require.NoError(t, err)
	assert.Equal(t, 0, m2.Stats().TotalProcessed)
}
