package crawlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// 错误类型定义
var (
	ErrBrowserCrashed  = errors.New("浏览器崩溃")
	ErrElementNotFound = errors.New("页面元素未找到")
	ErrSessionClosed   = errors.New("浏览器会话已关闭")
	ErrWaitTimeout     = errors.New("等待页面条件超时")
	ErrOpTimeout       = errors.New("浏览器操作超时")
)

// Locator 页面元素定位方式, CSS 与 XPath 二选一
type Locator struct {
	CSS   string
	XPath string

	// Text 非空时, 仅匹配文本包含该值的元素
	Text string
}

// CSS 按CSS选择器定位
func CSS(selector string) Locator {
	return Locator{CSS: selector}
}

// XPath 按XPath定位
func XPath(expr string) Locator {
	return Locator{XPath: expr}
}

// WithText 追加文本过滤条件
func (l Locator) WithText(text string) Locator {
	l.Text = text
	return l
}

// String 用于日志
func (l Locator) String() string {
	s := l.CSS
	if l.XPath != "" {
		s = "xpath:" + l.XPath
	}
	if l.Text != "" {
		s += fmt.Sprintf(" [text*=%q]", l.Text)
	}
	return s
}

// Element 页面元素. 元素句柄在页面跳转后失效, 调用方不得跨导航复用.
type Element interface {
	Click(ctx context.Context) error
	// Type 逐字符输入文本, 每个字符之间间隔delay; 输入前清空原有内容
	Type(ctx context.Context, text string, delay time.Duration) error
	Text() (string, error)
	Attribute(name string) (string, bool, error)
	HTML() (string, error)
	Screenshot() ([]byte, error)
	// Find 在元素内部立即查找, 不等待
	Find(loc Locator) (Element, error)
	FindAll(loc Locator) ([]Element, error)
}

// Session 独占的浏览器会话. 一个作业只持有一个会话, 会话不在作业之间共享.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error

	URL() string
	Title() (string, error)
	Source() (string, error)

	// Find 等待元素出现, 超时返回 ErrElementNotFound
	Find(ctx context.Context, loc Locator, timeout time.Duration) (Element, error)
	// FindAll 立即查找所有匹配元素
	FindAll(loc Locator) ([]Element, error)
	// Has 立即检查元素是否存在
	Has(loc Locator) bool
	// WaitAny 等待任一定位器匹配, 返回其下标; 超时返回 ErrWaitTimeout
	WaitAny(ctx context.Context, timeout time.Duration, locs ...Locator) (int, error)

	// DismissDialogs 接受所有已弹出的原生对话框并返回其文本
	DismissDialogs() []string

	Close() error
}

// Opener 创建新的浏览器会话
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// FindByText 在一组元素中查找文本(去除首尾空白后)等于text的元素
func FindByText(elements []Element, text string) (Element, bool) {
	for _, el := range elements {
		t, err := el.Text()
		if err != nil {
			continue
		}
		if strings.TrimSpace(t) == text {
			return el, true
		}
	}
	return nil, false
}

// PollInterval WaitAny 轮询间隔
const PollInterval = 250 * time.Millisecond

// Sleep 可被ctx打断的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
