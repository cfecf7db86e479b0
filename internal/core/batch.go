package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
	"golang.org/x/sync/errgroup"
)

// 作业级超时与取消写入结果树的文本
const (
	MsgJobTimeout   = "Превышено время ожидания проверки"
	MsgJobCancelled = "Проверка отменена"
)

// ErrBatchAborted 关闭 continue-on-error 时, 第一个失败的作业会中止批量任务
var ErrBatchAborted = errors.New("批量任务已中止")

// ResultStore 作业结果持久化
type ResultStore interface {
	SaveJob(ctx context.Context, job *models.CrawlJob, tree *models.ResultTree) error
}

// BatchRunner 批量执行 (地址, 姓名) 作业. 每个作业独占一个浏览器会话,
// 作业之间互不影响: 单个作业失败或超时只体现在它自己的报告项中.
type BatchRunner struct {
	deps          Deps
	concurrency   int
	softTimeout   time.Duration
	hardTimeout   time.Duration
	continueOnErr bool
	showBar       bool

	monitor  *crawlers.ResourceMonitor
	store    ResultStore
	progress utils.ProgressSink

	run func(ctx context.Context, req JobRequest, deps Deps) *models.ResultTree
}

// BatchOption 批量执行选项
type BatchOption func(*BatchRunner)

// WithConcurrency 同时运行的作业数
func WithConcurrency(n int) BatchOption {
	return func(br *BatchRunner) { br.concurrency = n }
}

// WithTimeouts 单个作业的软/硬超时. 软超时取消作业上下文, 硬超时放弃等待并记为超时.
func WithTimeouts(soft, hard time.Duration) BatchOption {
	return func(br *BatchRunner) {
		br.softTimeout = soft
		br.hardTimeout = hard
	}
}

// WithResourceMonitor 根据主机资源限制并发
func WithResourceMonitor(rm *crawlers.ResourceMonitor) BatchOption {
	return func(br *BatchRunner) { br.monitor = rm }
}

// WithStore 每个作业结束后保存结果
func WithStore(s ResultStore) BatchOption {
	return func(br *BatchRunner) { br.store = s }
}

// WithProgress 所有作业共用的进度上报
func WithProgress(sink utils.ProgressSink) BatchOption {
	return func(br *BatchRunner) { br.progress = sink }
}

// WithProgressBar 在终端显示进度条
func WithProgressBar(show bool) BatchOption {
	return func(br *BatchRunner) { br.showBar = show }
}

// WithContinueOnError 作业失败后是否继续其余作业
func WithContinueOnError(c bool) BatchOption {
	return func(br *BatchRunner) { br.continueOnErr = c }
}

// NewBatchRunner 创建批量执行器
func NewBatchRunner(deps Deps, opts ...BatchOption) *BatchRunner {
	br := &BatchRunner{
		deps:          deps,
		concurrency:   4,
		softTimeout:   6 * time.Minute,
		hardTimeout:   10 * time.Minute,
		continueOnErr: true,
		run:           RunCrawlJob,
	}
	for _, opt := range opts {
		opt(br)
	}
	if br.concurrency <= 0 {
		br.concurrency = 1
	}
	return br
}

// Run 执行全部作业. 报告总是返回, 报告项顺序与输入一致.
// 调用方取消ctx后, 尚未开始的作业记为已取消, 正在运行的作业在各自的软超时内结束.
func (br *BatchRunner) Run(ctx context.Context, reqs []JobRequest) (*models.BatchReport, error) {
	report := models.NewBatchReport(len(reqs))
	if len(reqs) == 0 {
		report.Close()
		return report, nil
	}

	limit := br.concurrency
	if br.monitor != nil {
		limit = br.monitor.CalculateMaxSessions(limit)
		utils.Debugf("内存压力: %s, 会话上限 %d", br.monitor.Pressure(), limit)
	}
	if limit > len(reqs) {
		limit = len(reqs)
	}
	utils.Infof("🚀 开始批量检索: %d个作业, 并发 %d", len(reqs), limit)

	var bar *utils.BarSink
	if br.showBar {
		bar = &utils.BarSink{Bar: utils.NewProgressBar(len(reqs), "批量检索")}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, req := range reqs {
		g.Go(func() error {
			if br.monitor != nil && gctx.Err() == nil {
				if err := br.monitor.WaitForCapacity(gctx, br.softTimeout); err != nil {
					utils.Debugf("等待资源时被取消: %v", err)
				}
			}
			if bar != nil {
				req.Progress = utils.MultiSink{req.Progress, br.progress, bar}
			} else {
				req.Progress = utils.MultiSink{req.Progress, br.progress}
			}

			jr := br.runOne(gctx, req)
			report.Jobs[i] = jr
			if bar != nil {
				_ = bar.Bar.Add(1)
			}
			if !br.continueOnErr && jr.Job.Status != models.JobStatusCompleted {
				return fmt.Errorf("%w: %s (%s)", ErrBatchAborted, req.Address, jr.Job.Status)
			}
			return nil
		})
	}

	err := g.Wait()
	if bar != nil {
		_ = bar.Bar.Finish()
	}
	report.Close()
	printSummary(report)

	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

// runOne 执行单个作业, 在软超时取消作业、在硬超时放弃等待
func (br *BatchRunner) runOne(ctx context.Context, req JobRequest) models.JobReport {
	job, err := models.NewCrawlJob(req.Address, req.Person, br.deps.Headless)
	if err != nil {
		return invalidJob(req, err)
	}
	if req.ID != "" {
		job.ID = req.ID
	}
	req.ID = job.ID

	if ctx.Err() != nil {
		tree := models.NewResultTree()
		tree.Fail(req.Address, MsgJobCancelled)
		job.Finish(models.JobStatusCancelled, tree)
		return models.JobReport{Job: job, Result: tree}
	}

	job.Start()
	utils.Infof("▶️  [%s] %s: %s", job.ID, req.Address, req.Person.FullName())

	// 作业不随调用方取消而中断, 只受软超时约束, 保证浏览器会话正常关闭
	jobCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if br.softTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, br.softTimeout)
	}
	defer cancel()

	// 硬超时时保留作业已完成部分
	var partial atomic.Pointer[models.ResultTree]
	publish := req.Snapshot
	req.Snapshot = func(t *models.ResultTree) {
		partial.Store(t)
		if publish != nil {
			publish(t)
		}
	}

	done := make(chan *models.ResultTree, 1)
	go func() {
		done <- br.run(jobCtx, req, br.deps)
	}()

	var hard <-chan time.Time
	if br.hardTimeout > 0 {
		timer := time.NewTimer(br.hardTimeout)
		defer timer.Stop()
		hard = timer.C
	}

	var tree *models.ResultTree
	status := models.JobStatusCompleted
	select {
	case tree = <-done:
		switch {
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			utils.Warnf("⏱️  [%s] 超过软超时 %s", job.ID, br.softTimeout)
			status = models.JobStatusTimedOut
		case tree.HasError():
			status = models.JobStatusFailed
		}
	case <-hard:
		utils.Errorf("⏱️  [%s] 超过硬超时 %s, 放弃等待", job.ID, br.hardTimeout)
		tree = partial.Load()
		if tree == nil {
			tree = models.NewResultTree()
		}
		tree.Fail(req.Address, MsgJobTimeout)
		status = models.JobStatusTimedOut
	}

	job.Finish(status, tree)
	if br.store != nil {
		if err := br.store.SaveJob(context.WithoutCancel(ctx), job, tree); err != nil {
			utils.Error(err, "保存作业结果失败")
		}
	}
	utils.Infof("⏹️  [%s] %s (%.1f秒)", job.ID, job.Status, job.Duration)
	return models.JobReport{Job: job, Result: tree}
}

// invalidJob 参数校验失败的作业直接记为失败
func invalidJob(req JobRequest, err error) models.JobReport {
	job := &models.CrawlJob{
		ID:        req.ID,
		Address:   req.Address,
		Person:    req.Person,
		CreatedAt: time.Now(),
	}
	if job.ID == "" {
		job.ID = models.NewID()
	}
	tree := models.NewResultTree()
	tree.Fail(req.Address, "Некорректные данные: "+err.Error())
	job.Finish(models.JobStatusFailed, tree)
	utils.Warnf("跳过无效作业 %s: %v", req.Address, err)
	return models.JobReport{Job: job, Result: tree}
}

// printSummary 打印批量检索摘要
func printSummary(report *models.BatchReport) {
	utils.Info("==================================================")
	utils.Info("📊 批量检索摘要")
	utils.Info("==================================================")
	utils.Infof("总作业数: %d", report.Total)
	utils.Infof("✅ 完成: %d", report.Completed)
	utils.Infof("❌ 失败: %d", report.Failed)
	utils.Infof("⏱️  超时: %d", report.TimedOut)
	utils.Infof("🚫 取消: %d", report.Cancelled)
	utils.Infof("⏱️  总耗时: %.2f秒", report.Duration)
	utils.Info("==================================================")

	for _, jr := range report.Jobs {
		if jr.Job == nil || jr.Job.Status == models.JobStatusCompleted {
			continue
		}
		utils.Warnf("  - %s [%s]: %s", jr.Job.Address, jr.Job.Status, jr.Job.ErrorMessage)
	}
}
