package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
)

// memStore 内存结果存储
type memStore struct {
	mu   sync.Mutex
	jobs map[string]models.JobStatus
}

func (m *memStore) SaveJob(_ context.Context, job *models.CrawlJob, _ *models.ResultTree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs == nil {
		m.jobs = make(map[string]models.JobStatus)
	}
	m.jobs[job.ID] = job.Status
	return nil
}

func requests(t *testing.T, addresses ...string) []JobRequest {
	reqs := make([]JobRequest, 0, len(addresses))
	for _, a := range addresses {
		reqs = append(reqs, JobRequest{Address: a, Person: testPerson(t, "Иванов", "Иван")})
	}
	return reqs
}

func okTree(req JobRequest) *models.ResultTree {
	tree := models.NewResultTree()
	c := tree.Court("Суд " + req.Address)
	c.Address = req.Address
	c.Flavor = models.FlavorRegular
	c.Variant("Иванов И.").Set("Уголовные дела", "Первая инстанция", models.TableCell(models.PlaceholderNoCases, 1))
	return tree
}

func TestBatchRunnerStatuses(t *testing.T) {
	store := &memStore{}
	br := NewBatchRunner(Deps{}, WithConcurrency(3), WithTimeouts(time.Second, 2*time.Second), WithStore(store))
	br.run = func(ctx context.Context, req JobRequest, _ Deps) *models.ResultTree {
		switch req.Address {
		case "http://failed.test/":
			tree := models.NewResultTree()
			tree.Fail(req.Address, "Сайт не поддерживается")
			return tree
		case "http://slow.test/":
			<-ctx.Done()
			return okTree(req)
		}
		return okTree(req)
	}

	reqs := requests(t, "http://ok.test/", "http://failed.test/", "http://slow.test/", "not a url")
	report, err := br.Run(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []models.JobStatus{
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusTimedOut,
		models.JobStatusFailed,
	}
	for i, jr := range report.Jobs {
		if jr.Job == nil || jr.Result == nil {
			t.Fatalf("Jobs[%d] 缺失", i)
		}
		if jr.Job.Address != reqs[i].Address {
			t.Errorf("Jobs[%d] 顺序错误: %s", i, jr.Job.Address)
		}
		if jr.Job.Status != want[i] {
			t.Errorf("Jobs[%d].Status = %s, want %s", i, jr.Job.Status, want[i])
		}
	}
	if report.Completed != 1 || report.Failed != 2 || report.TimedOut != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Jobs[0].Job.Flavor != models.FlavorRegular || report.Jobs[0].Job.Stats.Empty != 1 {
		t.Errorf("作业汇总 = %+v", report.Jobs[0].Job)
	}
	if len(store.jobs) != 3 {
		t.Errorf("保存的作业数 = %d, want 3 (无效作业不保存)", len(store.jobs))
	}
}

func TestBatchRunnerHardTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	br := NewBatchRunner(Deps{}, WithTimeouts(0, 50*time.Millisecond))
	br.run = func(ctx context.Context, req JobRequest, _ Deps) *models.ResultTree {
		<-release
		return okTree(req)
	}

	report, err := br.Run(context.Background(), requests(t, "http://stuck.test/"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	jr := report.Jobs[0]
	if jr.Job.Status != models.JobStatusTimedOut {
		t.Fatalf("Status = %s", jr.Job.Status)
	}
	if site := jr.Result.Court(models.SiteKey("http://stuck.test/")); site.Error != MsgJobTimeout {
		t.Errorf("错误 = %q", site.Error)
	}
}

func TestBatchRunnerHardTimeoutKeepsPartialTree(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	br := NewBatchRunner(Deps{}, WithTimeouts(0, 50*time.Millisecond))
	br.run = func(ctx context.Context, req JobRequest, _ Deps) *models.ResultTree {
		tree := okTree(req)
		req.Snapshot(tree.Clone())
		<-release
		return tree
	}

	report, err := br.Run(context.Background(), requests(t, "http://stuck.test/"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	jr := report.Jobs[0]
	if jr.Job.Status != models.JobStatusTimedOut {
		t.Fatalf("Status = %s", jr.Job.Status)
	}
	if stats := jr.Result.Stats(); stats.Empty != 1 {
		t.Errorf("已完成的结果丢失: %+v", stats)
	}
	if site := jr.Result.Court(models.SiteKey("http://stuck.test/")); site.Error != MsgJobTimeout {
		t.Errorf("错误 = %q", site.Error)
	}
}

func TestBatchRunnerConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	br := NewBatchRunner(Deps{}, WithConcurrency(2))
	br.run = func(ctx context.Context, req JobRequest, _ Deps) *models.ResultTree {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return okTree(req)
	}

	report, err := br.Run(context.Background(), requests(t, "http://a.test/", "http://b.test/", "http://c.test/", "http://d.test/", "http://e.test/"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Completed != 5 {
		t.Errorf("Completed = %d", report.Completed)
	}
	if peak.Load() > 2 {
		t.Errorf("最大并发 = %d, want <= 2", peak.Load())
	}
}

func TestBatchRunnerAbortOnError(t *testing.T) {
	br := NewBatchRunner(Deps{}, WithConcurrency(1), WithContinueOnError(false))
	var calls atomic.Int32
	br.run = func(ctx context.Context, req JobRequest, _ Deps) *models.ResultTree {
		calls.Add(1)
		tree := models.NewResultTree()
		tree.Fail(req.Address, "Ошибка при работе с судом.")
		return tree
	}

	report, err := br.Run(context.Background(), requests(t, "http://a.test/", "http://b.test/", "http://c.test/"))
	if !errors.Is(err, ErrBatchAborted) {
		t.Fatalf("Run() error = %v, want ErrBatchAborted", err)
	}
	if calls.Load() != 1 {
		t.Errorf("中止后不应再启动作业, calls = %d", calls.Load())
	}
	if report.Failed != 1 || report.Cancelled != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestBatchRunnerCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	br := NewBatchRunner(Deps{})
	br.run = func(ctx context.Context, req JobRequest, _ Deps) *models.ResultTree {
		t.Error("取消后不应启动作业")
		return okTree(req)
	}
	report, err := br.Run(ctx, requests(t, "http://a.test/", "http://b.test/"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v", err)
	}
	if report.Cancelled != 2 {
		t.Errorf("Cancelled = %d, want 2", report.Cancelled)
	}
}

func TestBatchRunnerEmpty(t *testing.T) {
	report, err := NewBatchRunner(Deps{}).Run(context.Background(), nil)
	if err != nil || report.Total != 0 {
		t.Errorf("Run(nil) = %+v, %v", report, err)
	}
}
