package service

import (
	"context"

	"github.com/wolfitem/rust-daily/internal/domain/model"
)

// Summarizer 定义摘要生成的外部协作方接口。
// 实现方只需在限定时间内为任意输入返回文本，内部细节对流水线不可见。
type Summarizer interface {
	// SummarizeItem 为单条新闻生成详细摘要
	SummarizeItem(ctx context.Context, item model.NewsItem) (string, error)

	// SummarizeBatch 为一批新闻生成整体日报摘要
	SummarizeBatch(ctx context.Context, items []model.NewsItem) (string, error)

	// SummarizeOverview 为一批新闻生成简短的总体概览段落
	SummarizeOverview(ctx context.Context, items []model.NewsItem) (string, error)
}
