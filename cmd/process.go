package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/wolfitem/rust-daily/internal/application/service"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
	"github.com/wolfitem/rust-daily/internal/infrastructure/reportstore"
)

var (
	processDays int
	forceMode   bool
	batchMode   bool
	outputFile  string
)

// processCmd represents the process command
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "执行一次日报生成",
	Long: `抓取配置的RSS源并过滤出最近的Rust相关新闻，去掉已处理过的条目，
使用Deepseek API生成中文技术日报，保存为JSON报告文件。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.daily.Run(cmd.Context(), service.RunOptions{
			Days:        daysBack(processDays),
			ForceMode:   forceMode,
			BatchMode:   batchMode,
			Granularity: reportstore.GranularityDay,
		})
		if err != nil {
			logger.Error("日报生成失败", "error", err)
			return fmt.Errorf("日报生成失败: %w", err)
		}

		switch result.Outcome {
		case service.OutcomeNoContent:
			fmt.Println("未获取到任何新闻，跳过本次生成")
			return nil
		case service.OutcomeNothingNew:
			fmt.Println("所有新闻都已处理过，没有新内容")
			return nil
		}

		text := service.FormatReportText(result.Report)

		if outputFile != "" {
			// 确保输出目录存在
			outputDir := filepath.Dir(outputFile)
			if outputDir != "." {
				if err := os.MkdirAll(outputDir, 0755); err != nil {
					return fmt.Errorf("创建输出目录失败: %w", err)
				}
			}
			if err := os.WriteFile(outputFile, []byte(text), 0644); err != nil {
				return fmt.Errorf("写入输出文件失败: %w", err)
			}
			fmt.Printf("报告已保存到: %s\n", outputFile)
		} else {
			fmt.Println(text)
		}

		stats := a.history.Stats()
		fmt.Printf("历史记录: 共%d条，今日新增%d条\n", stats.TotalProcessed, stats.TodayProcessed)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	// 本地标志
	processCmd.Flags().IntVarP(&processDays, "days", "d", 0, "抓取最近几天的新闻（默认读取配置，未配置时为1）")
	processCmd.Flags().BoolVar(&forceMode, "force", false, "强制模式：忽略历史记录，重新处理所有新闻")
	processCmd.Flags().BoolVar(&batchMode, "batch-mode", false, "批量摘要模式：一次API调用生成整体日报")
	processCmd.Flags().StringVarP(&outputFile, "output", "f", "", "额外输出文本报告的文件路径（可选，默认打印到stdout）")
}
