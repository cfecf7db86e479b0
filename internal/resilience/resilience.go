// Package resilience 在每次页面跳转后检查并恢复瞬时故障:
// 原生对话框、"信息暂不可用"横幅以及502/503错误页.
//
// 502/503在重试耗尽后不会中止调用方, 而是以 Outcome.Degraded 标记继续.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// ErrSiteUnavailable 站点持续显示"信息暂不可用"
var ErrSiteUnavailable = errors.New("站点暂时不可用")

const (
	DefaultMaxRetries         = 15
	DefaultDelay              = 3 * time.Second
	DefaultUnavailableRetries = 3
)

// UnavailableLocator 不可用横幅容器
var UnavailableLocator = crawlers.CSS(".error_errorer")

// Check 一种瞬时错误页的识别规则
type Check struct {
	Name   string
	Detect func(title, source string) bool
}

// BadGateway 502识别
var BadGateway = Check{
	Name: "502",
	Detect: func(title, source string) bool {
		return strings.Contains(title, "502") || strings.Contains(source, "Bad Gateway")
	},
}

// ServiceUnavailable 503识别
var ServiceUnavailable = Check{
	Name: "503",
	Detect: func(title, source string) bool {
		return strings.Contains(title, "503") || strings.Contains(source, "Service Unavailable")
	},
}

// Outcome 一次页面校验的结果
type Outcome struct {
	Dialogs  []string // 被自动接受的对话框文本
	Retries  int      // 刷新次数
	Degraded bool     // 存在重试耗尽后仍继续使用的错误页
	Reasons  []string // 降级原因
}

func (o *Outcome) merge(other Outcome) {
	o.Dialogs = append(o.Dialogs, other.Dialogs...)
	o.Retries += other.Retries
	o.Degraded = o.Degraded || other.Degraded
	o.Reasons = append(o.Reasons, other.Reasons...)
}

// Layer 页面韧性层, 无状态, 可在作业之间共享
type Layer struct {
	MaxRetries         int
	Delay              time.Duration
	UnavailableRetries int

	// Checks 按顺序执行的瞬时错误检查, 默认 502 → 503
	Checks []Check

	// Sleep 可替换的等待函数
	Sleep func(ctx context.Context, d time.Duration) error
}

// New 创建韧性层
func New(maxRetries int, delay time.Duration) *Layer {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Layer{
		MaxRetries:         maxRetries,
		Delay:              delay,
		UnavailableRetries: DefaultUnavailableRetries,
		Checks:             []Check{BadGateway, ServiceUnavailable},
		Sleep:              crawlers.Sleep,
	}
}

// WithChecks 返回使用另一组检查顺序的副本
func (l *Layer) WithChecks(checks ...Check) *Layer {
	cp := *l
	cp.Checks = checks
	return &cp
}

// WithDelay 返回使用另一重试间隔的副本
func (l *Layer) WithDelay(d time.Duration) *Layer {
	cp := *l
	cp.Delay = d
	return &cp
}

// VerifyPage 在导航或改变页面状态的点击之后调用.
// 顺序: 接受对话框 → 不可用横幅(重试后返回 ErrSiteUnavailable) → 按 Checks 顺序检查错误页.
func (l *Layer) VerifyPage(ctx context.Context, s crawlers.Session) (Outcome, error) {
	var out Outcome
	l.dismiss(s, &out)

	if err := l.recoverUnavailable(ctx, s, &out); err != nil {
		return out, err
	}

	for _, check := range l.Checks {
		o, err := l.recoverTransient(ctx, s, check)
		out.merge(o)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (l *Layer) dismiss(s crawlers.Session, out *Outcome) {
	for _, text := range s.DismissDialogs() {
		utils.Warnf("页面弹出对话框,已自动接受: %s", text)
		out.Dialogs = append(out.Dialogs, text)
	}
}

// Unavailable 页面是否显示"信息暂不可用"
func Unavailable(s crawlers.Session) (bool, error) {
	if s.Has(UnavailableLocator) {
		return true, nil
	}
	source, err := s.Source()
	if err != nil {
		return false, err
	}
	return strings.Contains(source, crawlers.UnavailableBanner), nil
}

func (l *Layer) recoverUnavailable(ctx context.Context, s crawlers.Session, out *Outcome) error {
	for attempt := 0; ; attempt++ {
		down, err := Unavailable(s)
		if err != nil {
			return err
		}
		if !down {
			return nil
		}
		if attempt >= l.UnavailableRetries {
			utils.Errorf("站点不可用, %d 次刷新后仍显示不可用横幅: %s", l.UnavailableRetries, s.URL())
			return fmt.Errorf("%w: %s", ErrSiteUnavailable, s.URL())
		}
		utils.Warnf("站点显示不可用横幅, 刷新重试 %d/%d", attempt+1, l.UnavailableRetries)
		if err := l.reload(ctx, s, out); err != nil {
			return err
		}
	}
}

func (l *Layer) recoverTransient(ctx context.Context, s crawlers.Session, check Check) (Outcome, error) {
	var out Outcome
	for attempt := 0; attempt < l.MaxRetries; attempt++ {
		title, err := s.Title()
		if err != nil {
			return out, err
		}
		source, err := s.Source()
		if err != nil {
			return out, err
		}
		if !check.Detect(title, source) {
			if attempt > 0 {
				utils.Infof("错误 %s 已恢复 (刷新 %d 次)", check.Name, attempt)
			}
			return out, nil
		}
		utils.Warnf("检测到错误 %s, 刷新重试 %d/%d", check.Name, attempt+1, l.MaxRetries)
		if err := l.reload(ctx, s, &out); err != nil {
			return out, err
		}
	}

	// 最后一次刷新后的页面仍可能恢复
	title, err := s.Title()
	if err != nil {
		return out, err
	}
	source, err := s.Source()
	if err != nil {
		return out, err
	}
	if !check.Detect(title, source) {
		return out, nil
	}

	utils.Warnf("错误 %s 在 %d 次重试后仍存在, 以降级状态继续: %s", check.Name, l.MaxRetries, s.URL())
	out.Degraded = true
	out.Reasons = append(out.Reasons, check.Name)
	return out, nil
}

func (l *Layer) reload(ctx context.Context, s crawlers.Session, out *Outcome) error {
	sleep := l.Sleep
	if sleep == nil {
		sleep = crawlers.Sleep
	}
	if err := sleep(ctx, l.Delay); err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}
	out.Retries++
	l.dismiss(s, out)
	return nil
}
