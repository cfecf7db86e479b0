package crawlers

import (
	"context"
	"errors"
	"testing"
	"time"
)

// blockingCall 模拟一直没有响应的CDP调用, 只能被ctx打断
func blockingCall(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWithin(t *testing.T) {
	t.Run("调用挂起时按上限返回", func(t *testing.T) {
		start := time.Now()
		err := within(context.Background(), 20*time.Millisecond, blockingCall)
		if !errors.Is(err, ErrOpTimeout) {
			t.Fatalf("within() = %v, want ErrOpTimeout", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			t.Error("操作超时不应被当作作业超时")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("耗时 %v, 超过上限", elapsed)
		}
	})

	t.Run("父ctx取消时返回原错误", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := within(ctx, time.Hour, blockingCall); !errors.Is(err, context.Canceled) || errors.Is(err, ErrOpTimeout) {
			t.Errorf("within() = %v, want context.Canceled", err)
		}
	})

	t.Run("正常返回", func(t *testing.T) {
		want := errors.New("元素已分离")
		if err := within(context.Background(), time.Second, func(context.Context) error { return want }); err != want {
			t.Errorf("within() = %v, want %v", err, want)
		}
		if err := within(context.Background(), 0, func(context.Context) error { return nil }); err != nil {
			t.Errorf("within() = %v", err)
		}
	})
}

func TestNewRodLauncherDefaults(t *testing.T) {
	rl := NewRodLauncher(BrowserOptions{})
	if rl.opts.OpTimeout != DefaultOpTimeout {
		t.Errorf("OpTimeout = %v, want %v", rl.opts.OpTimeout, DefaultOpTimeout)
	}
	if rl.opts.LoadTimeout <= 0 || rl.opts.WindowWidth != 1920 {
		t.Errorf("opts = %+v", rl.opts)
	}
	if DefaultBrowserOptions().OpTimeout != DefaultOpTimeout {
		t.Error("默认参数缺少操作上限")
	}
}
