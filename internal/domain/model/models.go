package model

import "time"

// NewsItem 表示一条规范化后的新闻条目
// JSON 字段与报告文件格式保持一致
type NewsItem struct {
	Title       string     `json:"title"`       // 新闻标题
	Link        string     `json:"link"`        // 新闻链接（用于去重标识）
	Description string     `json:"description"` // 纯文本描述（已去除HTML）
	PubDate     *time.Time `json:"pub_date"`    // 发布时间（UTC，可能缺失）
	Source      string     `json:"source"`      // 来源名称（由调用者设置）
}

// Clone 返回条目的独立副本，供需要单独修改的流水线阶段使用
func (n NewsItem) Clone() NewsItem {
	clone := n
	if n.PubDate != nil {
		t := *n.PubDate
		clone.PubDate = &t
	}
	return clone
}

// DailyReport 表示一次生成的日报
type DailyReport struct {
	Date    time.Time  `json:"date"`    // 生成时间（UTC）
	Items   []NewsItem `json:"items"`   // 本期收录的新闻（已过滤并截断）
	Summary string     `json:"summary"` // AI 生成的摘要正文
}

// RssSource 表示一个RSS订阅源
type RssSource struct {
	Name string `mapstructure:"name" json:"name"` // 来源名称
	URL  string `mapstructure:"url" json:"url"`   // RSS地址
}

// DeepseekConfig 包含Deepseek API的配置信息
type DeepseekConfig struct {
	APIKey     string // API密钥
	Model      string // 模型名称
	MaxTokens  int    // 最大令牌数
	MaxCalls   int    // 每日最大调用次数（0表示不限制）
	APIUrl     string // API接口地址
	APITimeout int    // 单次请求超时（秒）
}

// CacheConfig 包含摘要缓存数据库的配置信息
type CacheConfig struct {
	Enabled  bool   // 是否启用缓存
	FilePath string // SQLite数据库文件路径
}

// ServerConfig 包含RSS发布服务的配置信息
type ServerConfig struct {
	Host        string // 监听地址
	Port        int    // 监听端口
	BaseURL     string // 对外可见的基础URL
	Title       string // Feed标题
	Description string // Feed描述
	Language    string // Feed语言
}

// HistoryStats 表示历史记录统计信息
type HistoryStats struct {
	TotalProcessed int        // 总处理数量
	TodayProcessed int        // 今日处理数量（UTC零点起）
	WeekProcessed  int        // 最近7天处理数量
	UniqueSources  int        // 不同来源数量
	LastCleanup    *time.Time // 上次清理时间
	OldestRecord   *time.Time // 最早记录时间
}

// TaskStats 表示定时任务执行统计
type TaskStats struct {
	TotalExecutions      int64      // 总执行次数
	SuccessfulExecutions int64      // 成功次数
	FailedExecutions     int64      // 失败次数
	LastExecution        *time.Time // 上次执行时间
	NextExecution        *time.Time // 下次计划执行时间
}

// SummaryCacheEntry 表示一条缓存的AI摘要
type SummaryCacheEntry struct {
	Fingerprint string    // 条目指纹
	Title       string    // 新闻标题
	Summary     string    // 缓存的摘要内容
	Source      string    // 来源名称
	CreatedAt   time.Time // 缓存写入时间
}
