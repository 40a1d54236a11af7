package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rssFeed(items string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
<link>https://example.com</link>
<description>测试用Feed</description>
` + items + `
</channel>
</rss>`
}

func rssEntry(title, link, description string, pubDate time.Time) string {
	return fmt.Sprintf(`<item>
<title>%s</title>
<link>%s</link>
<description>%s</description>
<pubDate>%s</pubDate>
</item>`, title, link, description, pubDate.Format(time.RFC1123Z))
}

func TestFetchNews(t *testing.T) {
	now := time.Now().UTC()

	feed := rssFeed(
		rssEntry("Rust 1.80 released", "https://example.com/1", "cargo improvements", now.Add(-time.Hour)) +
			rssEntry("Python news", "https://example.com/2", "nothing related", now.Add(-time.Hour)) +
			rssEntry("Old tokio article", "https://example.com/3", "tokio internals", now.AddDate(0, 0, -10)) +
			`<item>
<title>Dateless serde post</title>
<link>https://example.com/4</link>
<description>serde derive tricks</description>
</item>`,
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	svc := NewFeedService()
	items, err := svc.FetchNews(context.Background(), srv.URL, 1)
	require.NoError(t, err)

	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}

	// 窗口内且相关的条目保留，不相关的和过期的被过滤，无日期的保留
	assert.Contains(t, titles, "Rust 1.80 released")
	assert.Contains(t, titles, "Dateless serde post")
	assert.NotContains(t, titles, "Python news")
	assert.NotContains(t, titles, "Old tokio article")
}

func TestFetchNewsRecencyBoundary(t *testing.T) {
	cutoff := time.Now().UTC().AddDate(0, 0, -1)

	feed := rssFeed(
		rssEntry("just inside", "https://example.com/in", "rust news", cutoff.Add(30*time.Second)) +
			rssEntry("just outside", "https://example.com/out", "rust news", cutoff.Add(-30*time.Second)),
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	svc := NewFeedService()
	items, err := svc.FetchNews(context.Background(), srv.URL, 1)
	require.NoError(t, err)

	// 只有严格早于窗口起点的条目被丢弃
	require.Len(t, items, 1)
	assert.Equal(t, "just inside", items[0].Title)
}

func TestFetchNewsDatelessItemSurvivesWindow(t *testing.T) {
	feed := rssFeed(`<item>
<title>Understanding ownership</title>
<link>https://example.com/ownership</link>
<description>borrow checker deep dive</description>
</item>`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	svc := NewFeedService()
	items, err := svc.FetchNews(context.Background(), srv.URL, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].PubDate)
}

func TestFetchNewsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewFeedService()
	_, err := svc.FetchNews(context.Background(), srv.URL, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPStatus))
}

func TestFetchNewsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not xml at all")
	}))
	defer srv.Close()

	svc := NewFeedService()
	_, err := svc.FetchNews(context.Background(), srv.URL, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestCleanHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "标签与实体混合",
			input:    "<p>Hello &amp; <b>World</b></p>",
			expected: "Hello & World",
		},
		{
			name:     "换行标签",
			input:    "line1<br/>line2<br />line3",
			expected: "line1 line2 line3",
		},
		{
			name:     "残缺标签不丢内容",
			input:    "unclosed <tag and more text",
			expected: "unclosed <tag and more text",
		},
		{
			name:     "实体解码",
			input:    "&lt;code&gt; &quot;quoted&quot; &#39;x&#39;&nbsp;end",
			expected: `<code> "quoted" 'x' end`,
		},
		{
			name:     "空白折叠",
			input:    "  a \n\n  b\t c  ",
			expected: "a b c",
		},
		{
			name:     "空输入",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanHTML(tt.input))
		})
	}
}

func TestIsRustRelated(t *testing.T) {
	assert.True(t, isRustRelated("New Cargo feature lands"))
	assert.True(t, isRustRelated("понимание lifetime в деталях"))
	assert.False(t, isRustRelated("JavaScript framework news"))
	assert.False(t, isRustRelated(""))
}

func TestParseOpml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feeds.opml")

	content := `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
<head><title>订阅</title></head>
<body>
<outline text="Rust" title="Rust">
<outline text="Rust Blog" title="Rust Blog" type="rss" xmlUrl="https://blog.rust-lang.org/feed.xml"/>
</outline>
<outline text="Misc" title="Misc Feed" type="rss" xmlUrl="https://example.com/rss.xml"/>
</body>
</opml>`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	svc := NewFeedService()
	sources, err := svc.ParseOpml(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "Rust Blog", sources[0].Name)
	assert.Equal(t, "https://blog.rust-lang.org/feed.xml", sources[0].URL)
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSourceURL("https://blog.rust-lang.org/feed.xml"))
	assert.Error(t, v.ValidateSourceURL(""))
	assert.Error(t, v.ValidateSourceURL("ftp://example.com/feed"))
	assert.Error(t, v.ValidateSourceURL("http://localhost:8080/feed"))
	assert.Error(t, v.ValidateSourceURL("http://192.168.1.1/feed"))
}

func TestGetAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("环境变量优先", func(t *testing.T) {
		t.Setenv("DEEPSEEK_API_KEY", "env-key")
		key, err := v.GetAPIKey("config-key")
		require.NoError(t, err)
		assert.Equal(t, "env-key", key)
	})

	t.Run("回退到配置值", func(t *testing.T) {
		t.Setenv("DEEPSEEK_API_KEY", "")
		key, err := v.GetAPIKey("config-key")
		require.NoError(t, err)
		assert.Equal(t, "config-key", key)
	})

	t.Run("拒绝占位符", func(t *testing.T) {
		t.Setenv("DEEPSEEK_API_KEY", "")
		_, err := v.GetAPIKey("sk-****")
		assert.Error(t, err)
	})

	t.Run("完全缺失", func(t *testing.T) {
		t.Setenv("DEEPSEEK_API_KEY", "")
		_, err := v.GetAPIKey("")
		assert.Error(t, err)
	})
}
