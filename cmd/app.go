package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"github.com/wolfitem/rust-daily/internal/application/service"
	"github.com/wolfitem/rust-daily/internal/domain/model"
	domainservice "github.com/wolfitem/rust-daily/internal/domain/service"
	"github.com/wolfitem/rust-daily/internal/infrastructure/ai"
	"github.com/wolfitem/rust-daily/internal/infrastructure/database"
	"github.com/wolfitem/rust-daily/internal/infrastructure/history"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
	"github.com/wolfitem/rust-daily/internal/infrastructure/reportstore"
)

// defaultReportsDir 未配置时的报告目录
const defaultReportsDir = "reports"

// defaultSources Rust社区的内置订阅源
var defaultSources = []model.RssSource{
	{Name: "Rust Blog", URL: "https://blog.rust-lang.org/feed.xml"},
	{Name: "This Week in Rust", URL: "https://this-week-in-rust.org/rss.xml"},
	{Name: "Rust Users Forum", URL: "https://users.rust-lang.org/latest.rss"},
	{Name: "Rust Internals", URL: "https://internals.rust-lang.org/latest.rss"},
	{Name: "Jorge Aparicio's Blog", URL: "https://blog.japaric.io/index.xml"},
}

// app 聚合一次运行所需的全部组件
type app struct {
	daily   *service.DailyService
	history *history.Manager
	store   *reportstore.Store
	db      database.Database // 可为nil
}

// close 释放持有的资源
func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn("关闭缓存数据库失败", "error", err)
		}
	}
}

// buildApp 按配置组装日报流水线及其依赖
func buildApp() (*app, error) {
	feeds := domainservice.NewFeedService()
	validator := domainservice.NewValidator()

	sources, err := loadSources(feeds, validator)
	if err != nil {
		return nil, err
	}

	apiKey, err := validator.GetAPIKey(viper.GetString("deepseek.api_key"))
	if err != nil {
		return nil, err
	}

	summarizer := ai.NewDeepseekClient(model.DeepseekConfig{
		APIKey:     apiKey,
		Model:      viper.GetString("deepseek.model"),
		MaxTokens:  viper.GetInt("deepseek.max_tokens"),
		MaxCalls:   viper.GetInt("deepseek.max_calls"),
		APIUrl:     viper.GetString("deepseek.api_url"),
		APITimeout: viper.GetInt("deepseek.api_timeout"),
	})

	historyManager, err := history.NewManager(viper.GetString("history.file_path"))
	if err != nil {
		return nil, fmt.Errorf("初始化历史记录失败: %w", err)
	}

	reportsDir := os.Getenv("RSS_REPORTS_DIR")
	if reportsDir == "" {
		reportsDir = viper.GetString("reports.dir")
	}
	if reportsDir == "" {
		reportsDir = defaultReportsDir
	}
	store, err := reportstore.NewStore(reportsDir)
	if err != nil {
		return nil, err
	}

	a := &app{history: historyManager, store: store}

	var cache database.SummaryRepository
	if viper.GetBool("database.enabled") {
		dbPath := viper.GetString("database.file_path")
		if dbPath == "" {
			dbPath = "data/summaries.db"
		}
		db := database.NewSQLiteDatabase(dbPath)
		if err := db.Init(); err != nil {
			return nil, fmt.Errorf("初始化摘要缓存失败: %w", err)
		}
		a.db = db
		cache = database.NewSQLiteSummaryRepository(db)
	}

	a.daily = service.NewDailyService(service.DailyServiceDeps{
		Sources:    sources,
		Feeds:      feeds,
		Summarizer: summarizer,
		History:    historyManager,
		Store:      store,
		Cache:      cache,
	})

	return a, nil
}

// loadSources 读取订阅源配置：配置文件中的源覆盖内置默认源，
// 配置了OPML文件时将其中的源追加进来
func loadSources(feeds domainservice.FeedService, validator *domainservice.Validator) ([]model.RssSource, error) {
	sources := defaultSources

	var configured []model.RssSource
	if err := viper.UnmarshalKey("rss.sources", &configured); err != nil {
		return nil, fmt.Errorf("解析订阅源配置失败: %w", err)
	}
	if len(configured) > 0 {
		sources = configured
	}

	if opmlFile := viper.GetString("rss.opml_file"); opmlFile != "" {
		if err := validator.ValidateOpmlPath(opmlFile); err != nil {
			return nil, err
		}
		extra, err := feeds.ParseOpml(opmlFile)
		if err != nil {
			return nil, err
		}
		sources = append(sources, extra...)
	}

	valid := make([]model.RssSource, 0, len(sources))
	for _, source := range sources {
		if err := validator.ValidateSourceURL(source.URL); err != nil {
			logger.Warn("忽略无效的订阅源", "name", source.Name, "url", source.URL, "error", err)
			continue
		}
		valid = append(valid, source)
	}

	if len(valid) == 0 {
		return nil, fmt.Errorf("没有可用的订阅源")
	}
	return valid, nil
}

// daysBack 读取时间窗口配置，命令行标志优先于配置文件
func daysBack(flagValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	if configured := viper.GetInt("rss.days_back"); configured > 0 {
		return configured
	}
	return 1
}
