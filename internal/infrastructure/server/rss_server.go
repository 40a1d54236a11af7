package server

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wolfitem/rust-daily/internal/domain/model"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
)

const (
	// feedCacheControl 输出Feed的HTTP缓存策略
	feedCacheControl = "public, max-age=3600"
	// feedGenerator Feed中的generator标识
	feedGenerator = "Rust Daily Generator v1.0"
	// feedTTL Feed建议的刷新间隔（分钟）
	feedTTL = 60
)

// ReportLoader 定义发布服务所需的报告读取操作
type ReportLoader interface {
	LoadRecent(limit int) ([]model.DailyReport, error)
}

// RssServer 将已生成的日报以RSS 2.0和JSON API的形式对外发布
type RssServer struct {
	config model.ServerConfig
	store  ReportLoader
	server *http.Server
}

// ConfigFromEnv 从环境变量读取服务配置，缺失项使用默认值。
// 可识别的变量：RSS_HOST、RSS_PORT、RSS_BASE_URL、RSS_TITLE、RSS_DESCRIPTION
func ConfigFromEnv() model.ServerConfig {
	config := model.ServerConfig{
		Host:        "127.0.0.1",
		Port:        8080,
		Title:       "Rust Daily 技术日报",
		Description: "每日精选 Rust 技术新闻和资讯",
		Language:    "zh-CN",
	}

	if host := os.Getenv("RSS_HOST"); host != "" {
		config.Host = host
	}
	if portStr := os.Getenv("RSS_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port < 65536 {
			config.Port = port
		} else {
			logger.Warn("无效的RSS_PORT，使用默认端口", "value", portStr)
		}
	}
	if baseURL := os.Getenv("RSS_BASE_URL"); baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	} else {
		config.BaseURL = fmt.Sprintf("http://%s:%d", config.Host, config.Port)
	}
	if title := os.Getenv("RSS_TITLE"); title != "" {
		config.Title = title
	}
	if description := os.Getenv("RSS_DESCRIPTION"); description != "" {
		config.Description = description
	}

	return config
}

// NewRssServer 创建RSS发布服务
func NewRssServer(config model.ServerConfig, store ReportLoader) *RssServer {
	s := &RssServer{
		config: config,
		store:  store,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	mux.HandleFunc("/feed.xml", s.handleFeed)
	mux.HandleFunc("/rss", s.handleFeed)
	mux.HandleFunc("/api/reports", s.handleReports)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleIndex)

	s.server = &http.Server{
		Addr:         net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start 启动HTTP服务并阻塞，ctx取消时优雅关闭
func (s *RssServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		logger.Info("RSS服务已启动", "addr", s.server.Addr, "base_url", s.config.BaseURL)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("RSS服务正在关闭")
		return s.server.Shutdown(shutdownCtx)
	}
}

// Handler 返回HTTP处理器，供测试直接调用
func (s *RssServer) Handler() http.Handler {
	return s.server.Handler
}

// rssDocument RSS 2.0 文档结构
type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language"`
	PubDate       string    `xml:"pubDate"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Generator     string    `xml:"generator"`
	TTL           int       `xml:"ttl"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	Description string  `xml:"description"`
	PubDate     string  `xml:"pubDate"`
	GUID        rssGUID `xml:"guid"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// handleFeed 输出RSS 2.0格式的日报Feed
func (s *RssServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	reports, err := s.store.LoadRecent(parseLimit(r))
	if err != nil {
		logger.Error("加载日报失败", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	doc := s.buildFeed(reports)

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		logger.Error("序列化Feed失败", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", feedCacheControl)
	w.Write([]byte(xml.Header))
	w.Write(output)
}

// buildFeed 将日报列表组装为RSS文档
func (s *RssServer) buildFeed(reports []model.DailyReport) rssDocument {
	items := make([]rssItem, 0, len(reports))
	for _, report := range reports {
		dateStr := report.Date.Format("2006-01-02")
		items = append(items, rssItem{
			Title:       fmt.Sprintf("【Rust日报】%s", dateStr),
			Link:        fmt.Sprintf("%s/reports/%s", s.config.BaseURL, dateStr),
			Description: renderReportHTML(&report),
			PubDate:     report.Date.Format(time.RFC1123Z),
			GUID: rssGUID{
				IsPermaLink: "false",
				Value:       "rust-daily-" + dateStr,
			},
		})
	}

	now := time.Now().UTC().Format(time.RFC1123Z)
	return rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:         s.config.Title,
			Link:          s.config.BaseURL,
			Description:   s.config.Description,
			Language:      s.config.Language,
			PubDate:       now,
			LastBuildDate: now,
			Generator:     feedGenerator,
			TTL:           feedTTL,
			Items:         items,
		},
	}
}

// renderReportHTML 将日报正文渲染为Feed条目的HTML描述：
// 摘要的Markdown逐行转换为HTML，末尾附上本期新闻的来源链接列表
func renderReportHTML(report *model.DailyReport) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("<p><strong>%s</strong> 共收录 %d 条新闻</p>",
		report.Date.Format("2006-01-02"), len(report.Items)))
	b.WriteString(markdownToHTML(report.Summary))

	if len(report.Items) > 0 {
		b.WriteString("<hr/><p><strong>本期链接</strong></p><ul>")
		for _, item := range report.Items {
			b.WriteString(fmt.Sprintf(`<li><a href="%s">%s</a> (%s)</li>`,
				html.EscapeString(item.Link),
				html.EscapeString(item.Title),
				html.EscapeString(item.Source)))
		}
		b.WriteString("</ul>")
	}

	return b.String()
}

// markdownToHTML 将摘要中的简单Markdown逐行转换为HTML，
// 只处理标题和无序列表，其余行作为段落输出
func markdownToHTML(markdown string) string {
	var b strings.Builder
	inList := false

	closeList := func() {
		if inList {
			b.WriteString("</ul>")
			inList = false
		}
	}

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			closeList()
		case strings.HasPrefix(trimmed, "### "):
			closeList()
			b.WriteString("<h3>" + html.EscapeString(strings.TrimPrefix(trimmed, "### ")) + "</h3>")
		case strings.HasPrefix(trimmed, "## "):
			closeList()
			b.WriteString("<h2>" + html.EscapeString(strings.TrimPrefix(trimmed, "## ")) + "</h2>")
		case strings.HasPrefix(trimmed, "# "):
			closeList()
			b.WriteString("<h1>" + html.EscapeString(strings.TrimPrefix(trimmed, "# ")) + "</h1>")
		case strings.HasPrefix(trimmed, "- "):
			if !inList {
				b.WriteString("<ul>")
				inList = true
			}
			b.WriteString("<li>" + html.EscapeString(strings.TrimPrefix(trimmed, "- ")) + "</li>")
		default:
			closeList()
			b.WriteString("<p>" + html.EscapeString(trimmed) + "</p>")
		}
	}
	closeList()

	return b.String()
}

// reportsResponse /api/reports 的响应信封
type reportsResponse struct {
	Status  string              `json:"status"`
	Count   int                 `json:"count"`
	Reports []model.DailyReport `json:"reports"`
}

// handleReports 以JSON形式返回最近的日报
func (s *RssServer) handleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.store.LoadRecent(parseLimit(r))
	if err != nil {
		logger.Error("加载日报失败", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if reports == nil {
		reports = []model.DailyReport{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(reportsResponse{
		Status:  "ok",
		Count:   len(reports),
		Reports: reports,
	})
}

// handleHealth 健康检查
func (s *RssServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleIndex 首页，列出可用端点
func (s *RssServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="zh-CN">
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
<ul>
<li><a href="/feed">RSS Feed</a></li>
<li><a href="/api/reports">JSON API</a></li>
<li><a href="/health">健康检查</a></li>
</ul>
</body>
</html>
`, html.EscapeString(s.config.Title), html.EscapeString(s.config.Title), html.EscapeString(s.config.Description))
}

// parseLimit 解析limit查询参数，越界或缺失时交由存储层使用默认值
func parseLimit(r *http.Request) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 0
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return 0
	}
	return limit
}
