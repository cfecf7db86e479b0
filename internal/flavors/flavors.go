// Package flavors 实现各类法院网站的检测与导航状态机.
//
// 每种网站实现(Flavor)对应一个 Machine. Machine 对单个姓名变体执行完整的
// 类别/子类别遍历, 把结果逐项写入 models.VariantResult, 因此中途失败时
// 已完成的子类别结果仍然保留.
//
// 页面元素句柄不跨导航复用: 每次页面跳转后都按名称重新定位类别和子类别.
package flavors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/captcha"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/resilience"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

var (
	// ErrSearchSectionMissing 找不到"检索"入口, 网站结构已变化, 整个作业失败
	ErrSearchSectionMissing = errors.New("未找到案件检索入口")
	// ErrUnsupported 无法识别的网站
	ErrUnsupported = errors.New("不支持的法院网站")
	// ErrFormMissing 子类别的检索表单没有加载出来
	ErrFormMissing = errors.New("检索表单未加载")
	// ErrResultsTimeout 提交后结果页长时间无响应
	ErrResultsTimeout = errors.New("等待检索结果超时")
)

// Machine 一种网站实现的导航状态机
type Machine interface {
	Flavor() models.Flavor
	// Run 对一个姓名变体执行全部检索. 子类别级别的错误写入out,
	// 返回的错误表示该变体无法继续(入口缺失、会话崩溃等).
	Run(ctx context.Context, env *Env, address, variant string, out *models.VariantResult) error
}

// ForFlavor 返回flavor对应的状态机
func ForFlavor(f models.Flavor) (Machine, error) {
	switch f {
	case models.FlavorLegacyA:
		return LegacyA{}, nil
	case models.FlavorRegular:
		return Regular{}, nil
	case models.FlavorModern:
		return Modern{}, nil
	case models.FlavorMultiServer:
		return MultiServer{}, nil
	case models.FlavorRegional:
		return Regional{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, f)
}

// Timeouts 各导航步骤的等待上限
type Timeouts struct {
	Detect          time.Duration
	Element         time.Duration
	Results         time.Duration
	NextPage        time.Duration
	Form            time.Duration
	MultiServerForm time.Duration
	RegionalResults time.Duration
	TypeDelay       time.Duration
}

// DefaultTimeouts 默认等待时间
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Detect:          15 * time.Second,
		Element:         10 * time.Second,
		Results:         30 * time.Second,
		NextPage:        10 * time.Second,
		Form:            40 * time.Second,
		MultiServerForm: 50 * time.Second,
		RegionalResults: 120 * time.Second,
		TypeDelay:       50 * time.Millisecond,
	}
}

// Env 单个作业的运行环境. 计数器只属于本作业, 不在作业间共享.
type Env struct {
	Session  crawlers.Session
	Layer    *resilience.Layer
	Captcha  *captcha.Verifier
	Timeouts Timeouts
	Progress utils.ProgressSink
	Court    string

	degraded int
	attempts int
}

// NewEnv 使用默认超时创建环境
func NewEnv(s crawlers.Session, layer *resilience.Layer, verifier *captcha.Verifier) *Env {
	if layer == nil {
		layer = resilience.New(resilience.DefaultMaxRetries, resilience.DefaultDelay)
	}
	return &Env{Session: s, Layer: layer, Captcha: verifier, Timeouts: DefaultTimeouts()}
}

// Degraded 是否有页面在重试耗尽后被降级使用
func (e *Env) Degraded() bool {
	return e.degraded > 0
}

// CaptchaAttempts 本作业累计的验证码尝试次数
func (e *Env) CaptchaAttempts() int {
	return e.attempts
}

func (e *Env) report(format string, args ...interface{}) {
	utils.Report(e.Progress, fmt.Sprintf(format, args...), e.Court)
}

// verify 每次页面状态变化后调用
func (e *Env) verify(ctx context.Context) error {
	out, err := e.Layer.VerifyPage(ctx, e.Session)
	if out.Degraded {
		e.degraded++
	}
	return err
}

func (e *Env) find(ctx context.Context, loc crawlers.Locator, timeout time.Duration) (crawlers.Element, error) {
	if timeout <= 0 {
		timeout = e.Timeouts.Element
	}
	return e.Session.Find(ctx, loc, timeout)
}

// click 定位并点击元素, 随后校验页面
func (e *Env) click(ctx context.Context, loc crawlers.Locator, timeout time.Duration) error {
	el, err := e.find(ctx, loc, timeout)
	if err != nil {
		return err
	}
	return e.clickElement(ctx, el)
}

func (e *Env) clickElement(ctx context.Context, el crawlers.Element) error {
	if err := el.Click(ctx); err != nil {
		return err
	}
	return e.verify(ctx)
}

// typeInto 逐字符输入
func (e *Env) typeInto(ctx context.Context, loc crawlers.Locator, text string, timeout time.Duration) error {
	el, err := e.find(ctx, loc, timeout)
	if err != nil {
		return err
	}
	return el.Type(ctx, text, e.Timeouts.TypeDelay)
}

func (e *Env) navigate(ctx context.Context, address string) error {
	if err := e.Session.Navigate(ctx, address); err != nil {
		return err
	}
	return e.verify(ctx)
}

// solveCaptcha 通过验证码并在结果页上再次校验
func (e *Env) solveCaptcha(ctx context.Context, ch captcha.Challenge) error {
	if e.Captcha == nil {
		return fmt.Errorf("%w: 未配置识别服务", captcha.ErrSolverFailed)
	}
	res, err := e.Captcha.Solve(ctx, e.Session, ch)
	e.attempts += len(res.Attempts)
	if err != nil {
		return err
	}
	return e.verify(ctx)
}

// cellFunc 执行一个子类别的检索, 返回合并后的表格和页数
type cellFunc func() (html string, pages int, err error)

// runCell 执行检索并写入结果. 子类别级别的错误被记录后吞掉,
// 只有需要终止整个变体的错误才返回.
func (e *Env) runCell(ctx context.Context, out *models.VariantResult, category, subcategory string, fn cellFunc) error {
	degradedBefore, attemptsBefore := e.degraded, e.attempts

	html, pages, err := fn()
	var cell models.Cell
	switch {
	case err == nil:
		cell = models.TableCell(html, pages)
	case Fatal(ctx, err):
		return err
	case errors.Is(err, captcha.ErrRejected):
		utils.Warnf("[%s] 验证码多次未通过, 跳过 %s / %s", e.Court, category, subcategory)
		cell = models.SkippedCell(err.Error())
	default:
		utils.Warnf("[%s] %s / %s 检索失败: %v", e.Court, category, subcategory, err)
		cell = models.ErrorCell(err.Error())
	}
	cell.Degraded = e.degraded > degradedBefore
	cell.CaptchaAttempts = e.attempts - attemptsBefore
	out.Set(category, subcategory, cell)
	return nil
}

// Fatal 判断错误是否需要终止当前作业: 上下文结束、会话崩溃或网站结构变化
func Fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, crawlers.ErrBrowserCrashed) ||
		errors.Is(err, crawlers.ErrSessionClosed) ||
		errors.Is(err, ErrSearchSectionMissing) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
