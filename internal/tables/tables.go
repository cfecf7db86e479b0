// Package tables 从结果页提取案件表格并合并多页结果.
package tables

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// ErrNotReady 严格模式下结果页在超时内没有出现表格或无记录标志
var ErrNotReady = errors.New("结果页未加载")

// Spec 描述结果页上的表格
type Spec struct {
	// Ready 表格已加载的标志元素
	Ready crawlers.Locator
	// NoRecords "无记录"标志, 先于Ready检查, 任一出现即返回占位符
	NoRecords []crawlers.Locator
	// Select 在页面源码中定位表格的goquery选择器
	Select  string
	Timeout time.Duration
	// Strict 等待超时返回 ErrNotReady, 否则继续尝试从源码提取
	Strict bool
}

// Extract 等待表格或无记录标志出现, 返回清理后的表格HTML.
// 无记录返回 PlaceholderNoCases, 页面上没有表格返回 PlaceholderNoData; 两者都不是错误.
func Extract(ctx context.Context, s crawlers.Session, spec Spec) (string, error) {
	locs := make([]crawlers.Locator, 0, 1+len(spec.NoRecords))
	locs = append(locs, spec.NoRecords...)
	locs = append(locs, spec.Ready)

	idx, err := s.WaitAny(ctx, spec.Timeout, locs...)
	switch {
	case err == nil && idx < len(spec.NoRecords):
		utils.Debugf("结果页显示无记录: %s", locs[idx])
		return models.PlaceholderNoCases, nil
	case errors.Is(err, crawlers.ErrWaitTimeout):
		if spec.Strict {
			return "", fmt.Errorf("%w: %s", ErrNotReady, spec.Ready)
		}
		utils.Warnf("等待结果表格超时: %s", spec.Ready)
	case err != nil:
		return "", err
	}

	source, err := s.Source()
	if err != nil {
		return "", err
	}
	table, ok := FromSource(source, spec.Select, s.URL())
	if !ok {
		return models.PlaceholderNoData, nil
	}
	return table, nil
}

// FromSource 从页面源码中取出第一个匹配selector的表格, 链接转为绝对地址并清理展示属性
func FromSource(source, selector, pageURL string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return "", false
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	absolutize(sel, pageURL)
	raw, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", false
	}
	return Sanitize(raw), true
}

// absolutize 将相对链接解析为基于页面地址的绝对地址
func absolutize(sel *goquery.Selection, pageURL string) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" {
		return
	}
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		a.SetAttr("href", base.ResolveReference(ref).String())
	})
}

// Absolutize 对HTML片段中的链接做绝对化
func Absolutize(fragment, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("解析HTML失败: %w", err)
	}
	body := doc.Find("body")
	absolutize(body, pageURL)
	return body.Html()
}
