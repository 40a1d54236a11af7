package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wolfitem/rust-daily/internal/application/service"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
	"github.com/wolfitem/rust-daily/internal/infrastructure/server"
)

var (
	serveDays      int
	serveBatchMode bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "以服务模式运行：定时生成日报并对外发布RSS",
	Long: `启动常驻服务：每4小时自动生成一次日报（启动时立即生成一次），
同时提供HTTP服务对外发布RSS Feed和JSON API。
服务配置通过环境变量 RSS_HOST、RSS_PORT、RSS_BASE_URL、RSS_TITLE、RSS_DESCRIPTION 调整。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		scheduler := service.NewTaskScheduler(a.daily, service.RunOptions{
			Days:      daysBack(serveDays),
			BatchMode: serveBatchMode,
		})

		config := server.ConfigFromEnv()
		rssServer := server.NewRssServer(config, a.store)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("服务已启动: %s\n", config.BaseURL)

		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return scheduler.Start(groupCtx)
		})
		group.Go(func() error {
			return rssServer.Start(groupCtx)
		})

		if err := group.Wait(); err != nil {
			logger.Error("服务异常退出", "error", err)
			return err
		}

		logger.Info("服务已退出")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&serveDays, "days", "d", 0, "每次生成时抓取最近几天的新闻")
	serveCmd.Flags().BoolVar(&serveBatchMode, "batch-mode", false, "批量摘要模式：一次API调用生成整体日报")
}
