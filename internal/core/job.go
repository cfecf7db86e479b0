package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/captcha"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/flavors"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/names"
	"github.com/RecoveryAshes/courtcrawl/internal/resilience"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// JobRequest 一个 (地址, 姓名) 检索作业
type JobRequest struct {
	ID       string
	Address  string
	Person   models.PersonQuery
	Progress utils.ProgressSink

	// Snapshot 每个姓名变体结束后以当前结果树的副本调用
	Snapshot func(*models.ResultTree)
}

// Deps 作业依赖. 除 Opener 外均可为零值.
type Deps struct {
	// Opener 每个作业打开一个独占的浏览器会话
	Opener crawlers.Opener
	Layer  *resilience.Layer
	// LegacyADelay 蓝色模板的刷新间隔
	LegacyADelay time.Duration
	Timeouts     flavors.Timeouts

	// Solver 黄色模板与地区门户的验证码识别; LegacyASolver 为空时蓝色模板也使用它
	Solver             captcha.Solver
	LegacyASolver      captcha.Solver
	CaptchaMaxAttempts int
	CaptchaSettle      time.Duration

	// Probe 可选的HTTP预检, 仅用于 DetectCourt
	Probe *crawlers.Probe

	Headless bool

	// Sleep 替换所有等待(测试用)
	Sleep func(ctx context.Context, d time.Duration) error
}

func (d Deps) layer(f models.Flavor) *resilience.Layer {
	layer := d.Layer
	if layer == nil {
		layer = resilience.New(resilience.DefaultMaxRetries, resilience.DefaultDelay)
	}
	if f == models.FlavorLegacyA && d.LegacyADelay > 0 {
		layer = layer.WithDelay(d.LegacyADelay)
	}
	if d.Sleep != nil {
		cp := *layer
		cp.Sleep = d.Sleep
		layer = &cp
	}
	return layer
}

func (d Deps) timeouts() flavors.Timeouts {
	if d.Timeouts == (flavors.Timeouts{}) {
		return flavors.DefaultTimeouts()
	}
	return d.Timeouts
}

// verifier 为作业创建验证码验证器, 未配置识别服务时返回nil
func (d Deps) verifier(f models.Flavor) *captcha.Verifier {
	solver := d.Solver
	if f == models.FlavorLegacyA && d.LegacyASolver != nil {
		solver = d.LegacyASolver
	}
	if solver == nil {
		return nil
	}
	v := captcha.NewVerifier(solver, d.CaptchaMaxAttempts)
	if d.CaptchaSettle > 0 {
		v.Settle = d.CaptchaSettle
	}
	if t := d.timeouts(); t.TypeDelay > 0 {
		v.TypeDelay = t.TypeDelay
		v.ElementWait = t.Element
		v.SubmitWait = t.Results
	}
	if d.Sleep != nil {
		v.Sleep = d.Sleep
	}
	return v
}

// RunCrawlJob 执行一个检索作业. 从不返回错误: 所有失败都以错误标记写入结果树.
// 浏览器会话在任何退出路径上都会被关闭.
func RunCrawlJob(ctx context.Context, req JobRequest, deps Deps) (tree *models.ResultTree) {
	tree = models.NewResultTree()
	if req.ID == "" {
		req.ID = models.NewID()
	}
	log := utils.JobLogger(req.ID, req.Address)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("作业发生未处理的异常")
			tree.Fail(req.Address, fmt.Sprintf("%s%v", flavors.MsgExecutionError, r))
		}
	}()

	variants := names.Variants(req.Person)
	log.Info().Strs("variants", variants).Msg("开始检索")

	session, err := deps.Opener.Open(ctx)
	if err != nil {
		log.Error().Err(err).Msg("打开浏览器会话失败")
		tree.Fail(req.Address, flavors.MsgExecutionError+err.Error())
		return tree
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭浏览器会话失败")
		}
	}()

	utils.Report(req.Progress, "Определение типа сайта", req.Address)
	timeouts := deps.timeouts()
	det, err := flavors.NewDetector(deps.layer(""), timeouts.Detect).Detect(ctx, session, req.Address)
	if err != nil {
		log.Error().Err(err).Msg("识别网站类型失败")
		tree.Fail(req.Address, flavors.MsgExecutionError+err.Error())
		return tree
	}
	if !det.Supported() {
		reason := det.Reason
		if reason == "" {
			reason = flavors.MsgUnsupported
		}
		log.Warn().Str("flavor", string(det.Flavor)).Msg(reason)
		tree.Fail(req.Address, reason).Flavor = det.Flavor
		return tree
	}

	machine, err := flavors.ForFlavor(det.Flavor)
	if err != nil {
		tree.Fail(req.Address, flavors.MsgUnsupported)
		return tree
	}
	log = log.With().Str("court", det.Name).Str("flavor", string(det.Flavor)).Logger()

	env := flavors.NewEnv(session, deps.layer(det.Flavor), deps.verifier(det.Flavor))
	env.Timeouts = timeouts
	env.Progress = req.Progress
	env.Court = det.Name

	court := tree.Court(det.Name)
	court.Address = req.Address
	court.Flavor = det.Flavor

	for _, variant := range variants {
		utils.Report(req.Progress, "Поиск: "+variant, det.Name)
		v := court.Variant(variant)
		err := machine.Run(ctx, env, req.Address, variant, v)
		if req.Snapshot != nil {
			req.Snapshot(tree.Clone())
		}
		if err == nil {
			continue
		}
		if flavors.Fatal(ctx, err) {
			log.Error().Err(err).Str("variant", variant).Msg("作业终止")
			tree.Fail(req.Address, failureMessage(err))
			break
		}
		log.Warn().Err(err).Str("variant", variant).Msg("姓名变体检索失败, 继续下一个")
		v.Error = err.Error()
	}

	court.Degraded = env.Degraded()
	if court.Degraded {
		log.Warn().Msg("部分页面在重试耗尽后被降级使用")
	}
	stats := tree.Stats()
	log.Info().
		Int("tables", stats.Tables).
		Int("empty", stats.Empty).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Int("captcha_attempts", env.CaptchaAttempts()).
		Dur("duration", time.Since(start)).
		Msg("检索完成")
	return tree
}

// failureMessage 作业级错误的对外文本
func failureMessage(err error) string {
	switch {
	case errors.Is(err, flavors.ErrSearchSectionMissing):
		return flavors.MsgSearchMissing
	case errors.Is(err, crawlers.ErrBrowserCrashed), errors.Is(err, crawlers.ErrSessionClosed):
		return flavors.MsgCourtError
	default:
		return flavors.MsgExecutionError + err.Error()
	}
}

// DetectCourt 仅识别网站类型, 不执行检索
func DetectCourt(ctx context.Context, address string, deps Deps) (info models.CourtInfo) {
	info = models.CourtInfo{Address: address, Flavor: models.FlavorUnsupported}
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("识别网站类型时发生异常 [%s]: %v", address, r)
			info.Supported = false
			info.Error = fmt.Sprintf("%s%v", flavors.MsgExecutionError, r)
		}
	}()

	if err := models.ValidateURL(address); err != nil {
		info.Error = err.Error()
		return info
	}

	if deps.Probe != nil && models.HostOf(address) != flavors.RegionalHost {
		res := deps.Probe.Check(ctx, address)
		if !res.OK() {
			utils.Warnf("[%s] HTTP预检未通过: status=%d %s", address, res.StatusCode, res.Reason)
			info.Error = flavors.MsgUnavailable
			return info
		}
	}

	session, err := deps.Opener.Open(ctx)
	if err != nil {
		info.Error = flavors.MsgExecutionError + err.Error()
		return info
	}
	defer session.Close()

	det, err := flavors.NewDetector(deps.layer(""), deps.timeouts().Detect).Detect(ctx, session, address)
	if err != nil {
		info.Error = flavors.MsgExecutionError + err.Error()
		return info
	}
	return det.Info(address)
}
