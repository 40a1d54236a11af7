package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wolfitem/rust-daily/internal/domain/model"
	"github.com/wolfitem/rust-daily/internal/infrastructure/logger"
	"github.com/wolfitem/rust-daily/internal/infrastructure/reportstore"
)

const (
	// reportCronSpec 每4小时整点生成一次日报（00:00、04:00、08:00……）
	reportCronSpec = "0 */4 * * *"
	// heartbeatCronSpec 每小时整点输出一次心跳日志
	heartbeatCronSpec = "0 * * * *"
)

// TaskScheduler 驱动日报流水线的周期执行。
// 同一时刻最多只有一次流水线在运行，定时触发与手动触发共用同一把锁。
type TaskScheduler struct {
	daily *DailyService
	opts  RunOptions
	cron  *cron.Cron

	reportEntry cron.EntryID

	runMu sync.Mutex // 流水线单飞锁

	statsMu sync.Mutex
	stats   model.TaskStats
}

// NewTaskScheduler 创建定时任务调度器。
// 调度器一天运行多次，报告固定使用分钟粒度，避免同日多次运行互相覆盖
func NewTaskScheduler(daily *DailyService, opts RunOptions) *TaskScheduler {
	opts.Granularity = reportstore.GranularityMinute
	return &TaskScheduler{
		daily: daily,
		opts:  opts,
		cron:  cron.New(),
	}
}

// Start 注册定时任务并阻塞运行，启动后立即执行一次流水线，
// 之后按计划每4小时执行。ctx取消时优雅停止并等待进行中的任务完成。
func (t *TaskScheduler) Start(ctx context.Context) error {
	entryID, err := t.cron.AddFunc(reportCronSpec, func() {
		t.runOnce(ctx)
	})
	if err != nil {
		return err
	}
	t.reportEntry = entryID

	if _, err := t.cron.AddFunc(heartbeatCronSpec, func() {
		logger.Info("定时任务心跳", "next_run", t.nextRun().Format(time.RFC3339))
		logger.LogMemStatsOnce()
	}); err != nil {
		return err
	}

	t.cron.Start()
	logger.Info("定时任务调度器已启动", "report_cron", reportCronSpec)

	// 启动时立即生成一次，不等待首个整点
	t.runOnce(ctx)

	<-ctx.Done()
	t.Shutdown()
	return nil
}

// TriggerNow 手动触发一次流水线执行，与定时执行互斥
func (t *TaskScheduler) TriggerNow(ctx context.Context) (*RunResult, error) {
	logger.Info("手动触发日报生成")
	return t.execute(ctx)
}

// Shutdown 停止调度器：不再接受新的触发，等待进行中的任务完成
func (t *TaskScheduler) Shutdown() {
	logger.Info("定时任务调度器正在停止")
	<-t.cron.Stop().Done()

	// 等待进行中的流水线执行完毕
	t.runMu.Lock()
	t.runMu.Unlock() //nolint:staticcheck // 只为等待占用者释放

	logger.Info("定时任务调度器已停止")
}

// Stats 返回当前执行统计的快照
func (t *TaskScheduler) Stats() model.TaskStats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	stats := t.stats
	if next := t.nextRun(); !next.IsZero() {
		stats.NextExecution = &next
	}
	return stats
}

// runOnce 执行一次流水线并吞掉错误，调度循环不能因单次失败中断
func (t *TaskScheduler) runOnce(ctx context.Context) {
	if _, err := t.execute(ctx); err != nil {
		logger.Error("定时日报生成失败", "error", err)
	}
}

// execute 带单飞锁执行流水线并更新统计
func (t *TaskScheduler) execute(ctx context.Context) (*RunResult, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	result, err := t.daily.Run(ctx, t.opts)

	now := time.Now().UTC()
	t.statsMu.Lock()
	t.stats.TotalExecutions++
	if err != nil {
		t.stats.FailedExecutions++
	} else {
		t.stats.SuccessfulExecutions++
	}
	t.stats.LastExecution = &now
	t.statsMu.Unlock()

	return result, err
}

// nextRun 返回下一次计划执行的时间，调度器未运行时返回零值
func (t *TaskScheduler) nextRun() time.Time {
	entry := t.cron.Entry(t.reportEntry)
	return entry.Next
}
