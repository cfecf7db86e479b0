// Package crawlertest 提供脚本化的浏览器会话, 用于在没有真实浏览器的情况下测试站点流程.
//
// 页面由 Page 描述, 元素按定位器键(CSS选择器或 "xpath:"+表达式)登记.
// 点击元素时执行其 OnClick, 通常是跳转到另一个 Page.
package crawlertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
)

// Page 一个静态页面状态
type Page struct {
	URL    string
	Title  string
	Source string

	Elements map[string][]*Element

	// Dialogs 进入页面时弹出的对话框
	Dialogs []string

	// OnReload 刷新时返回的新页面, 为nil时保持当前页面
	OnReload func() *Page
}

// NewPage 创建页面
func NewPage(url, title string) *Page {
	return &Page{URL: url, Title: title, Elements: make(map[string][]*Element)}
}

// Add 按定位器登记元素, 返回页面本身便于链式调用
func (p *Page) Add(loc crawlers.Locator, els ...*Element) *Page {
	k := key(loc)
	p.Elements[k] = append(p.Elements[k], els...)
	return p
}

// Element 脚本化元素
type Element struct {
	Label string // 用于点击记录
	Text  string
	HTML  string
	Attrs map[string]string
	Image []byte

	Children map[string][]*Element

	// OnClick 点击回调, 可调用 Session.Goto 切换页面
	OnClick func(s *Session) error

	mu    sync.Mutex
	Value string
}

// El 创建带文本的元素
func El(text string) *Element {
	return &Element{Text: text, Label: text}
}

// WithAttr 设置属性
func (e *Element) WithAttr(name, value string) *Element {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[name] = value
	return e
}

// WithHTML 设置outerHTML
func (e *Element) WithHTML(html string) *Element {
	e.HTML = html
	return e
}

// WithChild 登记子元素
func (e *Element) WithChild(loc crawlers.Locator, children ...*Element) *Element {
	if e.Children == nil {
		e.Children = make(map[string][]*Element)
	}
	k := key(loc)
	e.Children[k] = append(e.Children[k], children...)
	return e
}

// Goes 点击后跳转到page
func (e *Element) Goes(page *Page) *Element {
	e.OnClick = func(s *Session) error {
		s.Goto(page)
		return nil
	}
	return e
}

// Typed 最后一次输入的值
func (e *Element) Typed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Value
}

// Session 脚本化会话, 实现 crawlers.Session
type Session struct {
	mu sync.Mutex

	current *Page
	history []*Page

	// Routes Navigate 使用的地址表
	Routes map[string]*Page

	pendingDialogs []string

	Clicks    []string
	Navigated []string
	Reloads   int
	Closed    bool

	// Crash 非nil时所有操作返回该错误
	Crash error
}

// NewSession 以start为初始页面创建会话
func NewSession(start *Page) *Session {
	s := &Session{Routes: make(map[string]*Page)}
	if start != nil {
		s.Goto(start)
	}
	return s
}

// Route 登记地址
func (s *Session) Route(url string, page *Page) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Routes[url] = page
	return s
}

// Goto 切换到page并记录历史
func (s *Session) Goto(page *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotoLocked(page)
}

func (s *Session) gotoLocked(page *Page) {
	if s.current != nil {
		s.history = append(s.history, s.current)
	}
	s.current = page
	if page != nil {
		s.pendingDialogs = append(s.pendingDialogs, page.Dialogs...)
	}
}

// Current 当前页面
func (s *Session) Current() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ClickLog 点击记录副本
func (s *Session) ClickLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Clicks...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Navigated = append(s.Navigated, url)
	page, ok := s.Routes[url]
	if !ok {
		return fmt.Errorf("crawlertest: 未登记的地址 %s", url)
	}
	s.gotoLocked(page)
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reloads++
	if s.current != nil && s.current.OnReload != nil {
		if next := s.current.OnReload(); next != nil {
			s.current = next
			s.pendingDialogs = append(s.pendingDialogs, next.Dialogs...)
		}
	}
	return nil
}

func (s *Session) Back(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history); n > 0 {
		s.current = s.history[n-1]
		s.history = s.history[:n-1]
	}
	return nil
}

func (s *Session) URL() string {
	if p := s.Current(); p != nil {
		return p.URL
	}
	return ""
}

func (s *Session) Title() (string, error) {
	if err := s.check(context.Background()); err != nil {
		return "", err
	}
	if p := s.Current(); p != nil {
		return p.Title, nil
	}
	return "", nil
}

func (s *Session) Source() (string, error) {
	if err := s.check(context.Background()); err != nil {
		return "", err
	}
	if p := s.Current(); p != nil {
		return p.Source, nil
	}
	return "", nil
}

// Find 不等待: 元素不存在时立即返回 ErrElementNotFound
func (s *Session) Find(ctx context.Context, loc crawlers.Locator, _ time.Duration) (crawlers.Element, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	els, _ := s.FindAll(loc)
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", crawlers.ErrElementNotFound, loc)
	}
	return els[0], nil
}

func (s *Session) FindAll(loc crawlers.Locator) ([]crawlers.Element, error) {
	if err := s.check(context.Background()); err != nil {
		return nil, err
	}
	p := s.Current()
	if p == nil {
		return nil, nil
	}
	return s.wrap(filter(p.Elements[key(loc)], loc.Text)), nil
}

func (s *Session) Has(loc crawlers.Locator) bool {
	els, err := s.FindAll(loc)
	return err == nil && len(els) > 0
}

// WaitAny 不等待: 无匹配时立即返回 ErrWaitTimeout
func (s *Session) WaitAny(ctx context.Context, _ time.Duration, locs ...crawlers.Locator) (int, error) {
	if err := s.check(ctx); err != nil {
		return -1, err
	}
	for i, loc := range locs {
		if s.Has(loc) {
			return i, nil
		}
	}
	return -1, crawlers.ErrWaitTimeout
}

func (s *Session) DismissDialogs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingDialogs
	s.pendingDialogs = nil
	return out
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed {
		return crawlers.ErrSessionClosed
	}
	if s.Crash != nil {
		return s.Crash
	}
	return nil
}

func (s *Session) wrap(els []*Element) []crawlers.Element {
	out := make([]crawlers.Element, 0, len(els))
	for _, e := range els {
		out = append(out, &handle{el: e, s: s})
	}
	return out
}

// handle 把 *Element 绑定到会话
type handle struct {
	el *Element
	s  *Session
}

func (h *handle) Click(ctx context.Context) error {
	if err := h.s.check(ctx); err != nil {
		return err
	}
	h.s.mu.Lock()
	h.s.Clicks = append(h.s.Clicks, h.el.Label)
	h.s.mu.Unlock()
	if h.el.OnClick != nil {
		return h.el.OnClick(h.s)
	}
	return nil
}

func (h *handle) Type(ctx context.Context, text string, _ time.Duration) error {
	if err := h.s.check(ctx); err != nil {
		return err
	}
	h.el.mu.Lock()
	h.el.Value = text
	h.el.mu.Unlock()
	return nil
}

func (h *handle) Text() (string, error) {
	return h.el.Text, h.s.check(context.Background())
}

func (h *handle) Attribute(name string) (string, bool, error) {
	if err := h.s.check(context.Background()); err != nil {
		return "", false, err
	}
	v, ok := h.el.Attrs[name]
	return v, ok, nil
}

func (h *handle) HTML() (string, error) {
	return h.el.HTML, h.s.check(context.Background())
}

func (h *handle) Screenshot() ([]byte, error) {
	if err := h.s.check(context.Background()); err != nil {
		return nil, err
	}
	return h.el.Image, nil
}

func (h *handle) Find(loc crawlers.Locator) (crawlers.Element, error) {
	els, err := h.FindAll(loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", crawlers.ErrElementNotFound, loc)
	}
	return els[0], nil
}

func (h *handle) FindAll(loc crawlers.Locator) ([]crawlers.Element, error) {
	if err := h.s.check(context.Background()); err != nil {
		return nil, err
	}
	return h.s.wrap(filter(h.el.Children[key(loc)], loc.Text)), nil
}

func key(loc crawlers.Locator) string {
	if loc.XPath != "" {
		return "xpath:" + loc.XPath
	}
	return loc.CSS
}

func filter(els []*Element, text string) []*Element {
	if text == "" {
		return els
	}
	out := make([]*Element, 0, len(els))
	for _, e := range els {
		if strings.Contains(e.Text, text) {
			out = append(out, e)
		}
	}
	return out
}

var _ crawlers.Session = (*Session)(nil)
var _ crawlers.Element = (*handle)(nil)

// Opener 返回预先准备好的会话
type Opener struct {
	mu       sync.Mutex
	Sessions []*Session
	Err      error
	opened   int
}

// Open 依次返回 Sessions 中的会话
func (o *Opener) Open(ctx context.Context) (crawlers.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	if o.opened >= len(o.Sessions) {
		return nil, fmt.Errorf("crawlertest: 没有可用会话")
	}
	s := o.Sessions[o.opened]
	o.opened++
	return s, nil
}

// Opened 已打开的会话数
func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}
