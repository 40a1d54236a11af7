package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wolfitem/rust-daily/internal/domain/model"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
)

// SummaryRepository 定义摘要缓存存储库接口。
// 缓存以条目指纹为键，避免强制模式或崩溃重跑时重复消耗API调用。
type SummaryRepository interface {
	// GetByFingerprint 按指纹查询缓存摘要，未命中返回nil
	GetByFingerprint(fingerprint string) (*model.SummaryCacheEntry, error)
	// Save 写入一条缓存摘要，指纹冲突时覆盖
	Save(entry model.SummaryCacheEntry) error
	// DeleteOlderThan 删除超过指定天数的缓存，返回删除数量
	DeleteOlderThan(days int) (int64, error)
	// Count 返回缓存条目总数
	Count() (int64, error)
}

// SQLiteSummaryRepository 实现SummaryRepository接口的SQLite存储库
type SQLiteSummaryRepository struct {
	db Database
}

// NewSQLiteSummaryRepository 创建一个新的SQLite摘要缓存存储库
func NewSQLiteSummaryRepository(db Database) SummaryRepository {
	return &SQLiteSummaryRepository{db: db}
}

// GetByFingerprint 按指纹查询缓存摘要
func (r *SQLiteSummaryRepository) GetByFingerprint(fingerprint string) (*model.SummaryCacheEntry, error) {
	query := "SELECT fingerprint, title, summary, source, created_at FROM summaries WHERE fingerprint = ?"
	row := r.db.QueryRow(query, fingerprint)

	var entry model.SummaryCacheEntry
	err := row.Scan(&entry.Fingerprint, &entry.Title, &entry.Summary, &entry.Source, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询缓存摘要失败: %w", err)
	}

	return &entry, nil
}

// Save 写入一条缓存摘要
func (r *SQLiteSummaryRepository) Save(entry model.SummaryCacheEntry) error {
	query := `
	INSERT INTO summaries (fingerprint, title, summary, source, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(fingerprint) DO UPDATE SET summary = excluded.summary, created_at = excluded.created_at
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := r.db.Exec(query, entry.Fingerprint, entry.Title, entry.Summary, entry.Source, createdAt); err != nil {
		return fmt.Errorf("保存缓存摘要失败: %w", err)
	}

	logger.Debug("摘要已写入缓存", "fingerprint", entry.Fingerprint, "title", entry.Title)
	return nil
}

// DeleteOlderThan 删除超过指定天数的缓存
func (r *SQLiteSummaryRepository) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := r.db.Exec("DELETE FROM summaries WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理过期缓存失败: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("获取清理数量失败: %w", err)
	}

	if removed > 0 {
		logger.Info("清理过期摘要缓存", "removed_count", removed, "days", days)
	}
	return removed, nil
}

// Count 返回缓存条目总数
func (r *SQLiteSummaryRepository) Count() (int64, error) {
	var count int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM summaries").Scan(&count); err != nil {
		return 0, fmt.Errorf("统计缓存数量失败: %w", err)
	}
	return count, nil
}
