package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gilliek/go-opml/opml"
	"github.com/mmcdole/gofeed"
	"github.com/wolfitem/rust-daily/internal/domain/model"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
)

const (
	userAgent    = "Rust-Daily/1.0"
	fetchTimeout = 15 * time.Second
)

// 获取RSS源的错误类别，供调用方区分处理
var (
	// ErrHTTPStatus 表示服务端返回了非成功状态码
	ErrHTTPStatus = errors.New("HTTP 状态错误")
	// ErrParse 表示响应内容不是合法的RSS/Atom文档
	ErrParse = errors.New("解析RSS内容失败")
)

// rustKeywords 话题相关性过滤的固定关键词集合
var rustKeywords = []string{
	"rust", "cargo", "crate", "rustc", "rustup", "wasm",
	"tokio", "serde", "actix", "axum", "async", "trait",
	"ownership", "borrow", "lifetime", "macro", "unsafe",
}

// FeedService 定义RSS源获取的领域服务接口
type FeedService interface {
	// FetchNews 获取单个RSS源并规范化为新闻条目
	FetchNews(ctx context.Context, url string, days int) ([]model.NewsItem, error)

	// ParseOpml 解析OPML文件并返回其中的RSS源列表
	ParseOpml(opmlFilePath string) ([]model.RssSource, error)
}

// feedService 实现FeedService接口
type feedService struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewFeedService 创建一个新的RSS源服务实例
func NewFeedService() FeedService {
	return &feedService{
		client: &http.Client{Timeout: fetchTimeout},
		parser: gofeed.NewParser(),
	}
}

// FetchNews 获取RSS源，应用时间窗口和话题相关性过滤。
// 无发布时间的条目不受时间窗口限制；严格早于窗口起点的条目被丢弃。
func (s *feedService) FetchNews(ctx context.Context, url string, days int) ([]model.NewsItem, error) {
	logger.Debug("正在获取RSS源", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求RSS源失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var items []model.NewsItem

	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}

		pubDate := parsePubDate(entry)

		// 只保留时间窗口内的条目；没有日期的条目不做惩罚
		if pubDate != nil && pubDate.Before(cutoff) {
			continue
		}

		title := entry.Title
		description := CleanHTML(entry.Description)
		if description == "" && entry.Content != "" {
			description = extractText(entry.Content)
		}

		// 话题相关性过滤：标题或描述需命中关键词
		if !isRustRelated(title) && !isRustRelated(description) {
			continue
		}

		items = append(items, model.NewsItem{
			Title:       title,
			Link:        entry.Link,
			Description: description,
			PubDate:     pubDate,
			Source:      "", // 由调用者设置
		})
	}

	return items, nil
}

// parsePubDate 解析条目发布时间，优先使用gofeed的解析结果，
// 再依次尝试RFC-2822与RFC-3339；全部失败时返回nil而不是当前时间
func parsePubDate(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		t := entry.PublishedParsed.UTC()
		return &t
	}

	if entry.Published == "" {
		return nil
	}

	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, entry.Published); err == nil {
			utc := t.UTC()
			return &utc
		}
	}

	logger.Warn("无法解析发布日期", "date", entry.Published)
	return nil
}

// isRustRelated 判断文本是否命中Rust话题关键词
func isRustRelated(text string) bool {
	textLower := strings.ToLower(text)
	for _, keyword := range rustKeywords {
		if strings.Contains(textLower, keyword) {
			return true
		}
	}
	return false
}

// CleanHTML 去除HTML标签并解码常见实体，将空白折叠为单个空格。
// 标签通过重复查找首个'<'与其后首个'>'的方式剥除，残缺文档不会造成死循环。
func CleanHTML(text string) string {
	result := strings.NewReplacer(
		"<p>", "",
		"</p>", "\n",
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
	).Replace(text)

	// 剥除剩余的HTML标签
	for {
		start := strings.IndexByte(result, '<')
		if start < 0 {
			break
		}
		end := strings.IndexByte(result[start:], '>')
		if end < 0 {
			break
		}
		result = result[:start] + result[start+end+1:]
	}

	// 解码HTML实体
	result = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	).Replace(result)

	// 折叠多余的空白
	return strings.Join(strings.Fields(result), " ")
}

// extractText 使用goquery从HTML内容中提取纯文本
func extractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Warn("解析HTML内容失败，回退到标签剥除", "error", err)
		return CleanHTML(html)
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ParseOpml 解析OPML文件并返回RSS源列表
func (s *feedService) ParseOpml(opmlFilePath string) ([]model.RssSource, error) {
	logger.Info("开始解析OPML文件", "file", opmlFilePath)

	doc, err := opml.NewOPMLFromFile(opmlFilePath)
	if err != nil {
		return nil, fmt.Errorf("解析OPML文件失败: %w", err)
	}

	var sources []model.RssSource
	for _, outline := range doc.Outlines() {
		sources = append(sources, extractSources(outline)...)
	}

	logger.Info("OPML文件解析完成", "sources_count", len(sources))
	return sources, nil
}

// extractSources 递归提取outline中的RSS源
func extractSources(outline opml.Outline) []model.RssSource {
	var sources []model.RssSource

	if outline.XMLURL != "" {
		name := outline.Title
		if name == "" {
			name = outline.Text
		}
		sources = append(sources, model.RssSource{
			Name: name,
			URL:  outline.XMLURL,
		})
	}

	for _, child := range outline.Outlines {
		sources = append(sources, extractSources(child)...)
	}

	return sources
}
