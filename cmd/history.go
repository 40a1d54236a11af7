package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wolfitem/rust-daily/internal/infrastructure/database"
	"github.com/wolfitem/rust-daily/internal/infrastructure/history"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "管理已处理新闻的历史记录",
	Long:  `查看、搜索和清理历史记录。历史记录用于跨运行去重，避免同一条新闻重复出现在日报中。`,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "显示历史记录统计信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openHistory()
		if err != nil {
			return err
		}

		stats := m.Stats()
		fmt.Printf("总处理数量: %d\n", stats.TotalProcessed)
		fmt.Printf("今日处理: %d\n", stats.TodayProcessed)
		fmt.Printf("最近7天处理: %d\n", stats.WeekProcessed)
		fmt.Printf("不同来源数量: %d\n", stats.UniqueSources)
		if stats.OldestRecord != nil {
			fmt.Printf("最早记录时间: %s\n", stats.OldestRecord.Format("2006-01-02 15:04:05"))
		}
		if stats.LastCleanup != nil {
			fmt.Printf("上次清理时间: %s\n", stats.LastCleanup.Format("2006-01-02 15:04:05"))
		}

		// 摘要缓存状态
		cache, closeCache, err := openCache()
		if err != nil {
			return err
		}
		defer closeCache()
		if cache != nil {
			count, err := cache.Count()
			if err != nil {
				return err
			}
			fmt.Printf("缓存摘要数量: %d\n", count)
		}
		return nil
	},
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup [保留天数]",
	Short: "清理超过指定天数的历史记录（默认保留30天）",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		daysToKeep := 30
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed <= 0 {
				return fmt.Errorf("无效的保留天数: %s", args[0])
			}
			daysToKeep = parsed
		}

		m, err := openHistory()
		if err != nil {
			return err
		}

		removed, err := m.CleanupOlderThan(daysToKeep)
		if err != nil {
			return err
		}
		fmt.Printf("已清理 %d 条超过 %d 天的历史记录\n", removed, daysToKeep)

		// 同步清理过期的摘要缓存
		cache, closeCache, err := openCache()
		if err != nil {
			return err
		}
		defer closeCache()
		if cache != nil {
			cacheRemoved, err := cache.DeleteOlderThan(daysToKeep)
			if err != nil {
				return err
			}
			fmt.Printf("已清理 %d 条过期的摘要缓存\n", cacheRemoved)
		}
		return nil
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <关键词>",
	Short: "按标题、来源或链接搜索历史记录",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openHistory()
		if err != nil {
			return err
		}

		matched := m.Search(args[0])
		if len(matched) == 0 {
			fmt.Println("没有找到匹配的记录")
			return nil
		}

		for _, item := range matched {
			fmt.Printf("[%s] %s (%s)\n  %s\n",
				item.ProcessedAt.Format("2006-01-02"), item.Title, item.Source, item.URL)
		}
		fmt.Printf("共找到 %d 条记录\n", len(matched))
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清空所有历史记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirmed {
			return fmt.Errorf("清空操作不可恢复，请使用 --yes 确认")
		}

		m, err := openHistory()
		if err != nil {
			return err
		}

		if err := m.ClearAll(); err != nil {
			return err
		}
		fmt.Println("已清空所有历史记录")
		return nil
	},
}

var clearConfirmed bool

// openHistory 按配置打开历史记录账本
func openHistory() (*history.Manager, error) {
	return history.NewManager(viper.GetString("history.file_path"))
}

// openCache 按配置打开摘要缓存，未启用时返回nil仓库和空关闭函数
func openCache() (database.SummaryRepository, func(), error) {
	if !viper.GetBool("database.enabled") {
		return nil, func() {}, nil
	}

	dbPath := viper.GetString("database.file_path")
	if dbPath == "" {
		dbPath = "data/summaries.db"
	}

	db := database.NewSQLiteDatabase(dbPath)
	if err := db.Init(); err != nil {
		return nil, nil, fmt.Errorf("初始化摘要缓存失败: %w", err)
	}

	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.Warn("关闭缓存数据库失败", "error", err)
		}
	}
	return database.NewSQLiteSummaryRepository(db), closeFn, nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyCleanupCmd)
	historyCmd.AddCommand(historySearchCmd)
	historyCmd.AddCommand(historyClearCmd)

	historyClearCmd.Flags().BoolVarP(&clearConfirmed, "yes", "y", false, "确认清空所有历史记录")
}
