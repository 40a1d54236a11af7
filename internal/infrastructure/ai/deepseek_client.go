package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfitem/rust-daily/internal/domain/model"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
	"github.com/wolfitem/rust-daily/internal/middleware"
)

const (
	defaultAPIURL  = "https://api.deepseek.com/v1/chat/completions"
	defaultModel   = "deepseek-chat"
	defaultTimeout = 30 * time.Second
	userAgent      = "Rust-Daily/1.0"

	// systemPreamble 摘要生成的系统提示词
	systemPreamble = "你是 Rust 中文社区的专业技术编辑，负责整理每日 Rust 技术资讯。" +
		"你需要按照 rustcc.cn 日报的格式和风格，用专业但易懂的中文编写技术日报。" +
		"重点关注技术细节、实用价值和社区动态，保持客观中性的技术写作风格。"
)

// DeepseekClient 实现service.Summarizer接口
type DeepseekClient struct {
	config  model.DeepseekConfig
	client  *http.Client
	limiter *middleware.RateLimiter
}

// NewDeepseekClient 创建新的Deepseek客户端
func NewDeepseekClient(config model.DeepseekConfig) *DeepseekClient {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.APIUrl == "" {
		config.APIUrl = defaultAPIURL
	}

	timeout := defaultTimeout
	if config.APITimeout > 0 {
		timeout = time.Duration(config.APITimeout) * time.Second
	}

	transport := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &DeepseekClient{
		config: config,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter: middleware.NewRateLimiter(int64(config.MaxCalls), 24*time.Hour),
	}
}

// SummarizeItem 为单条新闻生成详细摘要
func (c *DeepseekClient) SummarizeItem(ctx context.Context, item model.NewsItem) (string, error) {
	var prompt strings.Builder

	prompt.WriteString(singleItemTemplate)
	prompt.WriteString("\n\n请为以下新闻生成详细的技术摘要：\n\n")
	prompt.WriteString(fmt.Sprintf("标题: %s\n", item.Title))
	prompt.WriteString(fmt.Sprintf("链接: %s\n", item.Link))
	prompt.WriteString(fmt.Sprintf("来源: %s\n", item.Source))

	if item.Description != "" {
		prompt.WriteString(fmt.Sprintf("描述: %s\n", item.Description))
	}
	if item.PubDate != nil {
		prompt.WriteString(fmt.Sprintf("发布时间: %s\n", item.PubDate.Format("2006-01-02")))
	}

	prompt.WriteString("\n请按照模板格式生成这条新闻的详细摘要。")

	logger.Debug("发送单条新闻摘要请求", "title", item.Title)
	return c.complete(ctx, prompt.String())
}

// SummarizeBatch 为一批新闻生成整体日报摘要
func (c *DeepseekClient) SummarizeBatch(ctx context.Context, items []model.NewsItem) (string, error) {
	var prompt strings.Builder

	prompt.WriteString(batchTemplate)
	prompt.WriteString("\n\n请为以下新闻生成整体日报摘要：\n\n")

	for i, item := range items {
		prompt.WriteString(fmt.Sprintf("%d. 标题: %s\n", i+1, item.Title))
		prompt.WriteString(fmt.Sprintf("   链接: %s\n", item.Link))
		prompt.WriteString(fmt.Sprintf("   来源: %s\n", item.Source))
		if item.Description != "" {
			prompt.WriteString(fmt.Sprintf("   描述: %s\n", item.Description))
		}
		if item.PubDate != nil {
			prompt.WriteString(fmt.Sprintf("   发布时间: %s\n", item.PubDate.Format("2006-01-02")))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("\n请按照模板格式生成今日 Rust 技术日报的整体摘要。")

	logger.Debug("发送批量摘要请求", "items_count", len(items))
	return c.complete(ctx, prompt.String())
}

// SummarizeOverview 为一批新闻生成总体概览段落
func (c *DeepseekClient) SummarizeOverview(ctx context.Context, items []model.NewsItem) (string, error) {
	if len(items) == 0 {
		return "今日暂无 Rust 相关新闻。", nil
	}

	var prompt strings.Builder
	prompt.WriteString("请为今日的 Rust 技术新闻生成一个总体摘要段落（2-3句话），要求：\n")
	prompt.WriteString("1. 概括今日主要的技术动态和趋势\n")
	prompt.WriteString("2. 突出最重要的发布、更新或讨论\n")
	prompt.WriteString("3. 语言简洁专业，适合技术日报开头\n\n")
	prompt.WriteString("今日新闻概览：\n")

	for i, item := range items {
		prompt.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, item.Title, item.Source))
	}

	return c.complete(ctx, prompt.String())
}

// complete 调用chat补全接口，带限流与退避重试
func (c *DeepseekClient) complete(ctx context.Context, prompt string) (string, error) {
	if !c.limiter.Check() {
		return "", &middleware.RateLimitError{Status: c.limiter.GetStatus()}
	}

	requestBody := map[string]interface{}{
		"model": c.config.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPreamble},
			{"role": "user", "content": prompt},
		},
		"stream":      false,
		"temperature": 0.3,
	}
	if c.config.MaxTokens > 0 {
		requestBody["max_tokens"] = c.config.MaxTokens
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("构建API请求失败: %w", err)
	}

	var result string
	err = middleware.RetryWithBackoff(ctx, 3, time.Second, func() error {
		var reqErr error
		result, reqErr = c.doRequest(ctx, jsonData)
		return reqErr
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

// doRequest 执行一次HTTP请求并解析响应
func (c *DeepseekClient) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIUrl, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API返回错误: %d %s", resp.StatusCode, string(respBody))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("响应不包含有效内容")
	}

	logger.Info("API调用成功",
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", response.Usage.PromptTokens,
		"total_tokens", response.Usage.TotalTokens)

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// singleItemTemplate 单条新闻摘要的提示词模板
const singleItemTemplate = `你是 Rust 中文社区的专业技术编辑。请为单条 Rust 技术新闻生成详细的摘要内容，按照以下格式：

## 输出格式（根据新闻类型选择）：

### 对于 This Week in Rust:
This Week in Rust #[期号]
----------------------

阅读：[链接]

### 对于技术文章:
文章《[标题]》
--------------

[详细技术分析，包含：]
- 文章主要内容和技术要点
- 核心概念解释和实现细节
- 适用场景和实际价值
- 对 Rust 生态的意义

[Reddit] | 阅读：[原文链接]

### 对于项目/工具:
[项目名]：[简短描述]
--------------

[项目详细介绍：]
- 项目目标和解决的问题
- 主要功能特点（用 * 列表）
- 技术特色和创新点
- 使用示例（如果有）
- 与现有方案的对比

[Reddit] | 仓库：[GitHub链接]

### 对于社区讨论:
讨论：[讨论主题]
-----------------

[讨论要点总结]

"[重要观点引用]"

Reddit：[讨论链接]

## 要求：
1. 使用准确的 Markdown 格式
2. 保持专业但易懂的技术写作风格
3. 突出技术细节和实用价值
4. 每条摘要要有足够的技术深度`

// batchTemplate 批量模式下整体日报的提示词模板
const batchTemplate = `你是 Rust 中文社区的专业技术编辑。请为今日的 Rust 技术新闻生成一份完整的日报摘要，按照以下格式：

## 输出格式：

This Week in Rust #[期号]（如果有）
----------------------

阅读：[链接]

文章《[标题]》
--------------

[简要技术分析，包含要点和价值]

[项目名]：[简短描述]
--------------

[项目介绍和特点]

讨论：[讨论主题]
-----------------

[讨论要点总结]

## 要求：
1. 将所有新闻整合到一份完整的日报中
2. 按重要性排序：This Week in Rust > 官方博客 > 重要项目 > 社区讨论
3. 每个条目简洁明了，突出技术要点
4. 使用标准 Markdown 格式
5. 保持专业技术写作风格`
