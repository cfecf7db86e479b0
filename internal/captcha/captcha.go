// Package captcha 实现验证码识别-输入-提交的有界重试循环.
//
// 识别能力通过 Solver 接口接入, 可以是HTTP服务或本地命令;
// Pool 限制同时进行的识别调用数量, 不影响各作业的浏览器操作.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

var (
	// ErrRejected 达到最大尝试次数仍被拒绝, 调用方应跳过当前子类别
	ErrRejected = errors.New("验证码多次被拒绝")
	// ErrImageMissing 找不到验证码图片, 重试无意义
	ErrImageMissing = errors.New("验证码图片未找到")
	// ErrSolverFailed 识别服务返回错误
	ErrSolverFailed = errors.New("验证码识别失败")
)

const (
	DefaultMaxAttempts = 15
	DefaultTypeDelay   = 50 * time.Millisecond
	DefaultSettle      = 2 * time.Second
)

// Solver 验证码识别能力: 图片字节 → 文本
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// SolverFunc 函数适配器
type SolverFunc func(ctx context.Context, image []byte) (string, error)

func (f SolverFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// ImageSource 验证码图片的获取方式
type ImageSource int

const (
	// ImageScreenshot 对图片元素截图
	ImageScreenshot ImageSource = iota
	// ImageDataURI 读取 src 中的 base64 data URI
	ImageDataURI
)

// Challenge 描述一个站点的验证码表单
type Challenge struct {
	Image  crawlers.Locator
	Source ImageSource
	Input  crawlers.Locator
	Submit crawlers.Locator

	// Present 提交后验证码表单仍然存在, 视为未通过. 可为nil.
	Present func(s crawlers.Session) bool
	// Rejected 页面出现"验证码错误"或"请求无效"标记. 可为nil.
	Rejected func(s crawlers.Session) bool
	// Restart 被拒绝后把页面恢复到可重新输入的状态. 可为nil.
	Restart func(ctx context.Context, s crawlers.Session) error
}

// Result 一次验证过程的记录, 尝试记录仅在本步骤内有效
type Result struct {
	Attempts []models.CaptchaAttempt
	Accepted bool
}

// Verifier 验证码验证器, 状态只存在于单次 Solve 调用中
type Verifier struct {
	Solver      Solver
	MaxAttempts int
	TypeDelay   time.Duration
	Settle      time.Duration
	ElementWait time.Duration
	SubmitWait  time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// NewVerifier 创建验证器
func NewVerifier(solver Solver, maxAttempts int) *Verifier {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Verifier{
		Solver:      solver,
		MaxAttempts: maxAttempts,
		TypeDelay:   DefaultTypeDelay,
		Settle:      DefaultSettle,
		ElementWait: 10 * time.Second,
		SubmitWait:  30 * time.Second,
		Sleep:       crawlers.Sleep,
	}
}

// Solve 识别并提交验证码, 直到被接受或达到最大尝试次数.
// 图片缺失与识别失败不重试.
func (v *Verifier) Solve(ctx context.Context, s crawlers.Session, ch Challenge) (Result, error) {
	var res Result
	if v.Solver == nil {
		return res, fmt.Errorf("%w: 未配置识别服务", ErrSolverFailed)
	}

	for attempt := 1; attempt <= v.MaxAttempts; attempt++ {
		image, err := v.capture(ctx, s, ch)
		if err != nil {
			return res, err
		}

		text, err := v.Solver.Solve(ctx, image)
		if err != nil {
			res.Attempts = append(res.Attempts, models.CaptchaAttempt{Image: image, Index: attempt, Outcome: models.CaptchaSolverFailed})
			utils.Errorf("验证码识别失败 (第%d次): %v", attempt, err)
			return res, fmt.Errorf("%w: %v", ErrSolverFailed, err)
		}
		utils.Debugf("验证码识别结果 (第%d次): %s", attempt, text)

		if err := v.submit(ctx, s, ch, text); err != nil {
			return res, err
		}
		if err := v.sleep(ctx, v.Settle); err != nil {
			return res, err
		}

		rejected := ch.Rejected != nil && ch.Rejected(s)
		present := ch.Present != nil && ch.Present(s)
		if !rejected && !present {
			res.Attempts = append(res.Attempts, models.CaptchaAttempt{Image: image, Solved: text, Index: attempt, Outcome: models.CaptchaAccepted})
			res.Accepted = true
			utils.Infof("验证码通过 (第%d次)", attempt)
			return res, nil
		}

		res.Attempts = append(res.Attempts, models.CaptchaAttempt{Image: image, Solved: text, Index: attempt, Outcome: models.CaptchaRejected})
		utils.Warnf("验证码未通过 %d/%d", attempt, v.MaxAttempts)

		if attempt < v.MaxAttempts && ch.Restart != nil {
			if err := ch.Restart(ctx, s); err != nil {
				return res, fmt.Errorf("验证码重试前恢复页面失败: %w", err)
			}
		}
	}

	return res, fmt.Errorf("%w: 已尝试 %d 次", ErrRejected, v.MaxAttempts)
}

func (v *Verifier) submit(ctx context.Context, s crawlers.Session, ch Challenge, text string) error {
	input, err := s.Find(ctx, ch.Input, v.ElementWait)
	if err != nil {
		return fmt.Errorf("验证码输入框: %w", err)
	}
	if err := input.Type(ctx, text, v.TypeDelay); err != nil {
		return fmt.Errorf("输入验证码失败: %w", err)
	}
	button, err := s.Find(ctx, ch.Submit, v.SubmitWait)
	if err != nil {
		return fmt.Errorf("验证码提交按钮: %w", err)
	}
	if err := button.Click(ctx); err != nil {
		return fmt.Errorf("提交验证码失败: %w", err)
	}
	return nil
}

func (v *Verifier) sleep(ctx context.Context, d time.Duration) error {
	if v.Sleep == nil {
		return crawlers.Sleep(ctx, d)
	}
	return v.Sleep(ctx, d)
}
