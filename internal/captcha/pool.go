package captcha

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool 限制同时进行的识别调用数, 多个 Solver 可共享同一个 Pool
type Pool struct {
	sem *semaphore.Weighted
	n   int64
}

// NewPool 创建容量为n的识别池, n<=0 时为1(串行)
func NewPool(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), n: int64(n)}
}

// Size 池容量
func (p *Pool) Size() int {
	return int(p.n)
}

// Wrap 返回经过池限流的 Solver
func (p *Pool) Wrap(s Solver) Solver {
	return &pooled{pool: p, solver: s}
}

type pooled struct {
	pool   *Pool
	solver Solver
}

func (ps *pooled) Solve(ctx context.Context, image []byte) (string, error) {
	if err := ps.pool.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer ps.pool.sem.Release(1)
	return ps.solver.Solve(ctx, image)
}
