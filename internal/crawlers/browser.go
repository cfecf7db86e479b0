package crawlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
	"github.com/corpix/uarand"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserOptions 浏览器启动参数
type BrowserOptions struct {
	Headless     bool
	Bin          string // 浏览器可执行文件, 为空时由launcher自动查找/下载
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int

	// UserAgent 为空且RandomUserAgent为true时使用随机UA
	UserAgent       string
	RandomUserAgent bool
	AcceptLanguage  string

	// Stealth 使用go-rod/stealth创建页面, 隐藏自动化特征
	Stealth bool

	// Headers 附加请求头(可为nil)
	Headers models.HeaderProvider

	// LoadTimeout 导航后等待load事件的上限
	LoadTimeout time.Duration
	// OpTimeout 单次点击/输入/读取的上限
	OpTimeout time.Duration
}

// DefaultOpTimeout 未配置时单次浏览器操作的上限
const DefaultOpTimeout = 15 * time.Second

// DefaultBrowserOptions 默认启动参数
func DefaultBrowserOptions() BrowserOptions {
	return BrowserOptions{
		Headless:        true,
		NoSandbox:       true,
		WindowWidth:     1920,
		WindowHeight:    1080,
		RandomUserAgent: true,
		AcceptLanguage:  "ru-RU,ru;q=0.9,en;q=0.8",
		Stealth:         true,
		LoadTimeout:     60 * time.Second,
		OpTimeout:       DefaultOpTimeout,
	}
}

// RodLauncher 基于rod的会话工厂, 每次Open启动独立的浏览器进程
type RodLauncher struct {
	opts BrowserOptions
}

// NewRodLauncher 创建会话工厂
func NewRodLauncher(opts BrowserOptions) *RodLauncher {
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1920, 1080
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 60 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	return &RodLauncher{opts: opts}
}

// Open 启动浏览器并返回独占会话
func (rl *RodLauncher) Open(ctx context.Context) (Session, error) {
	l := launcher.New().Context(ctx).Headless(rl.opts.Headless)
	if rl.opts.Bin != "" {
		l = l.Bin(rl.opts.Bin)
	}
	l = l.NoSandbox(rl.opts.NoSandbox)

	// 反自动化检测参数 + 跳过证书校验(部分法院站点证书过期)
	l = l.Set("disable-blink-features", "AutomationControlled").
		Set("ignore-certificate-errors").
		Set("disable-dev-shm-usage")
	if rl.opts.Headless {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", rl.opts.WindowWidth, rl.opts.WindowHeight)).
			Set("disable-gpu")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	var page *rod.Page
	if rl.opts.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = browser.Close()
		l.Cleanup()
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &RodSession{
		launcher:    l,
		browser:     browser,
		page:        page.Context(sessCtx),
		ctx:         sessCtx,
		cancel:      cancel,
		loadTimeout: rl.opts.LoadTimeout,
		opTimeout:   rl.opts.OpTimeout,
	}

	if err := rl.applyProfile(page); err != nil {
		utils.Warnf("设置浏览器请求头失败: %v", err)
	}
	s.watchDialogs()

	utils.Debugf("浏览器已启动: %s (headless=%v, stealth=%v)", controlURL, rl.opts.Headless, rl.opts.Stealth)
	return s, nil
}

// applyProfile 设置UA与附加请求头
func (rl *RodLauncher) applyProfile(page *rod.Page) error {
	ua := rl.opts.UserAgent
	if ua == "" && rl.opts.RandomUserAgent {
		ua = uarand.GetRandom()
	}
	if ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: rl.opts.AcceptLanguage,
		}); err != nil {
			return fmt.Errorf("设置User-Agent失败: %w", err)
		}
		utils.Debugf("User-Agent: %s", ua)
	}

	if rl.opts.Headers == nil {
		return nil
	}
	headers, err := rl.opts.Headers.GetHeaders()
	if err != nil {
		return err
	}
	dict := headerDict(headers)
	if len(dict) == 0 {
		return nil
	}
	_, err = page.SetExtraHeaders(dict)
	return err
}

// headerDict 将http.Header展开为rod需要的 [name, value, ...] 形式; User-Agent由SetUserAgent处理
func headerDict(headers http.Header) []string {
	dict := make([]string, 0, len(headers)*2)
	for name, values := range headers {
		if len(values) == 0 || strings.EqualFold(name, "User-Agent") {
			continue
		}
		dict = append(dict, name, values[0])
	}
	return dict
}

// RodSession rod实现的浏览器会话
type RodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	ctx    context.Context
	cancel context.CancelFunc

	loadTimeout time.Duration
	opTimeout   time.Duration

	dialogsMu sync.Mutex
	dialogs   []string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// watchDialogs 自动接受原生对话框(alert/confirm), 避免阻塞后续CDP调用
func (s *RodSession) watchDialogs() {
	go s.page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		s.dialogsMu.Lock()
		s.dialogs = append(s.dialogs, e.Message)
		s.dialogsMu.Unlock()

		if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(s.page); err != nil {
			utils.Debugf("处理对话框失败: %v", err)
		}
	})()
}

// DismissDialogs 返回并清空已处理的对话框文本
func (s *RodSession) DismissDialogs() []string {
	s.dialogsMu.Lock()
	defer s.dialogsMu.Unlock()
	out := s.dialogs
	s.dialogs = nil
	return out
}

// Navigate 导航并等待页面加载
func (s *RodSession) Navigate(ctx context.Context, url string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	err := within(ctx, s.loadTimeout, func(ctx context.Context) error {
		return s.page.Context(ctx).Navigate(url)
	})
	if err != nil {
		return s.wrap(fmt.Errorf("导航失败 [%s]: %w", url, err))
	}
	s.waitLoad(s.page.Context(ctx))
	return nil
}

// Reload 刷新当前页面
func (s *RodSession) Reload(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	err := within(ctx, s.loadTimeout, func(ctx context.Context) error {
		return s.page.Context(ctx).Reload()
	})
	if err != nil {
		return s.wrap(fmt.Errorf("刷新页面失败: %w", err))
	}
	s.waitLoad(s.page.Context(ctx))
	return nil
}

// Back 浏览器后退
func (s *RodSession) Back(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	err := within(ctx, s.loadTimeout, func(ctx context.Context) error {
		return s.page.Context(ctx).NavigateBack()
	})
	if err != nil {
		return s.wrap(fmt.Errorf("后退失败: %w", err))
	}
	s.waitLoad(s.page.Context(ctx))
	return nil
}

func (s *RodSession) waitLoad(p *rod.Page) {
	tp := p.Timeout(s.loadTimeout)
	defer tp.CancelTimeout()
	if err := tp.WaitLoad(); err != nil {
		utils.Warnf("等待页面加载失败: %v", err)
	}
}

func (s *RodSession) info() (*proto.TargetTargetInfo, error) {
	var info *proto.TargetTargetInfo
	err := within(s.ctx, s.opTimeout, func(ctx context.Context) error {
		var err error
		info, err = s.page.Context(ctx).Info()
		return err
	})
	return info, err
}

// URL 当前页面地址
func (s *RodSession) URL() string {
	info, err := s.info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Title 当前页面标题
func (s *RodSession) Title() (string, error) {
	info, err := s.info()
	if err != nil {
		return "", s.wrap(err)
	}
	return info.Title, nil
}

// Source 当前页面HTML
func (s *RodSession) Source() (string, error) {
	var html string
	err := within(s.ctx, s.opTimeout, func(ctx context.Context) error {
		var err error
		html, err = s.page.Context(ctx).HTML()
		return err
	})
	if err != nil {
		return "", s.wrap(err)
	}
	return html, nil
}

// Find 等待元素出现
func (s *RodSession) Find(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	tp := s.page.Context(ctx).Timeout(timeout)
	el, err := waitOne(tp, loc)
	tp.CancelTimeout()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, loc)
		}
		return nil, s.wrap(err)
	}
	return &rodElement{el: el.Context(s.ctx), s: s}, nil
}

// FindAll 立即查找
func (s *RodSession) FindAll(loc Locator) ([]Element, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	var els rod.Elements
	err := within(s.ctx, s.opTimeout, func(ctx context.Context) error {
		var err error
		els, err = queryAll(s.page.Context(ctx), loc)
		return err
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return s.wrapElements(els), nil
}

// Has 立即检查元素是否存在
func (s *RodSession) Has(loc Locator) bool {
	els, err := s.FindAll(loc)
	return err == nil && len(els) > 0
}

// WaitAny 轮询直到任一定位器匹配
func (s *RodSession) WaitAny(ctx context.Context, timeout time.Duration, locs ...Locator) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		for i, loc := range locs {
			if s.Has(loc) {
				return i, nil
			}
		}
		if s.closed.Load() {
			return -1, ErrSessionClosed
		}
		if time.Now().After(deadline) {
			return -1, ErrWaitTimeout
		}
		if err := Sleep(ctx, PollInterval); err != nil {
			return -1, err
		}
	}
}

// Close 关闭浏览器并清理进程, 可重复调用
func (s *RodSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		if err := s.browser.Close(); err != nil {
			s.closeErr = fmt.Errorf("关闭浏览器失败: %w", err)
			s.launcher.Kill()
		}
		s.launcher.Cleanup()
		utils.Debugf("浏览器已关闭")
	})
	return s.closeErr
}

// wrap 将连接断开类错误归类为浏览器崩溃
func (s *RodSession) wrap(err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	if isConnectionLost(err) {
		return fmt.Errorf("%w: %v", ErrBrowserCrashed, err)
	}
	return err
}

// within 在上限d内执行一次CDP调用. 超过上限返回 ErrOpTimeout; parent取消时返回原错误
func within(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		d = DefaultOpTimeout
	}
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	err := fn(ctx)
	if err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w (%s): %v", ErrOpTimeout, d, err)
	}
	return err
}

func isConnectionLost(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"use of closed network connection", "websocket: close", "connection reset", "target closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (s *RodSession) wrapElements(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		// 查询时的ctx在调用结束后取消, 元素需重新绑定到会话ctx
		out = append(out, &rodElement{el: el.Context(s.ctx), s: s})
	}
	return out
}

// rodFinder 页面与元素共有的查询方法
type rodFinder interface {
	Elements(selector string) (rod.Elements, error)
	ElementsX(xpath string) (rod.Elements, error)
}

func queryAll(f rodFinder, loc Locator) (rod.Elements, error) {
	var (
		els rod.Elements
		err error
	)
	if loc.XPath != "" {
		els, err = f.ElementsX(loc.XPath)
	} else {
		els, err = f.Elements(loc.CSS)
	}
	if err != nil || loc.Text == "" {
		return els, err
	}
	filtered := make(rod.Elements, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err == nil && strings.Contains(text, loc.Text) {
			filtered = append(filtered, el)
		}
	}
	return filtered, nil
}

func waitOne(p *rod.Page, loc Locator) (*rod.Element, error) {
	switch {
	case loc.XPath != "":
		return p.ElementX(loc.XPath)
	case loc.Text != "":
		return p.ElementR(loc.CSS, regexp.QuoteMeta(loc.Text))
	default:
		return p.Element(loc.CSS)
	}
}

// rodElement rod实现的页面元素
type rodElement struct {
	el *rod.Element
	s  *RodSession
}

const selectOptionJS = `() => {
	const sel = this.closest('select');
	this.selected = true;
	if (sel) {
		sel.value = this.value;
		sel.dispatchEvent(new Event('input', {bubbles: true}));
		sel.dispatchEvent(new Event('change', {bubbles: true}));
	}
}`

// Click 点击元素; <option>通过脚本选中, 鼠标点击失败时退回到脚本点击
func (e *rodElement) Click(ctx context.Context) error {
	err := within(ctx, e.s.opTimeout, func(ctx context.Context) error {
		el := e.el.Context(ctx)
		if tag, err := el.Eval(`() => this.tagName`); err == nil && strings.EqualFold(tag.Value.Str(), "option") {
			_, err := el.Eval(selectOptionJS)
			return err
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			utils.Debugf("鼠标点击失败,改用脚本点击: %v", err)
			if _, jsErr := el.Eval(`() => this.click()`); jsErr != nil {
				return fmt.Errorf("点击失败: %w", err)
			}
		}
		return nil
	})
	return e.s.wrap(err)
}

// Type 清空后逐字符输入, 每个字符单独计时
func (e *rodElement) Type(ctx context.Context, text string, delay time.Duration) error {
	err := within(ctx, e.s.opTimeout, func(ctx context.Context) error {
		el := e.el.Context(ctx)
		if err := el.SelectAllText(); err == nil {
			return el.Input("")
		}
		return nil
	})
	if err != nil {
		return e.s.wrap(fmt.Errorf("清空输入框失败: %w", err))
	}
	for _, r := range text {
		err := within(ctx, e.s.opTimeout, func(ctx context.Context) error {
			return e.el.Context(ctx).Input(string(r))
		})
		if err != nil {
			return e.s.wrap(fmt.Errorf("输入失败: %w", err))
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// read 在会话ctx下限时读取元素
func (e *rodElement) read(fn func(el *rod.Element) error) error {
	return e.s.wrap(within(e.s.ctx, e.s.opTimeout, func(ctx context.Context) error {
		return fn(e.el.Context(ctx))
	}))
}

func (e *rodElement) Text() (string, error) {
	var t string
	err := e.read(func(el *rod.Element) (err error) {
		t, err = el.Text()
		return err
	})
	return t, err
}

func (e *rodElement) Attribute(name string) (string, bool, error) {
	var v *string
	err := e.read(func(el *rod.Element) (err error) {
		v, err = el.Attribute(name)
		return err
	})
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) HTML() (string, error) {
	var h string
	err := e.read(func(el *rod.Element) (err error) {
		h, err = el.HTML()
		return err
	})
	return h, err
}

func (e *rodElement) Screenshot() ([]byte, error) {
	var img []byte
	err := e.read(func(el *rod.Element) (err error) {
		img, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		return err
	})
	return img, err
}

func (e *rodElement) Find(loc Locator) (Element, error) {
	els, err := e.queryAll(loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, loc)
	}
	return els[0], nil
}

func (e *rodElement) FindAll(loc Locator) ([]Element, error) {
	return e.queryAll(loc)
}

func (e *rodElement) queryAll(loc Locator) ([]Element, error) {
	var els rod.Elements
	err := e.read(func(el *rod.Element) (err error) {
		els, err = queryAll(el, loc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.s.wrapElements(els), nil
}
