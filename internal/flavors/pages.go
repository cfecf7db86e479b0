package flavors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/tables"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// maxPages 单个子类别最多翻页数
const maxPages = 200

// collectByNext 提取第一页后反复点击"下一页", 直到该控件消失或翻到已读过的页面.
// 部分站点在最后一页仍显示"下一页"并指向自身.
func (e *Env) collectByNext(ctx context.Context, spec tables.Spec, next crawlers.Locator) (string, int, error) {
	first, err := tables.Extract(ctx, e.Session, spec)
	if err != nil {
		return "", 0, err
	}
	if first == models.PlaceholderNoCases {
		return first, 1, nil
	}

	pages := []string{first}
	seen := map[string]bool{first: true}
	follow := spec
	follow.NoRecords = nil
	follow.Strict = false
	follow.Timeout = e.Timeouts.NextPage

	for len(pages) < maxPages {
		if err := e.verify(ctx); err != nil {
			return "", 0, err
		}
		el, err := e.Session.Find(ctx, next, e.Timeouts.NextPage)
		if errors.Is(err, crawlers.ErrElementNotFound) {
			break
		}
		if err != nil {
			return "", 0, err
		}
		if err := el.Click(ctx); err != nil {
			if Fatal(ctx, err) {
				return "", 0, err
			}
			utils.Warnf("[%s] 翻页失败, 停止在第 %d 页: %v", e.Court, len(pages), err)
			break
		}
		if err := e.verify(ctx); err != nil {
			return "", 0, err
		}
		page, err := tables.Extract(ctx, e.Session, follow)
		if err != nil {
			return "", 0, err
		}
		if seen[page] {
			utils.Debugf("[%s] 第 %d 页与已读页面相同 (%s), 停止翻页", e.Court, len(pages)+1, e.Session.URL())
			break
		}
		seen[page] = true
		pages = append(pages, page)
		utils.Debugf("[%s] 已获取第 %d 页", e.Court, len(pages))
	}
	return tables.Merge(pages), len(pages), nil
}

// totalPages 读取分页控件中最后一个链接的页码, 缺失或无法解析时为1
func totalPages(source, selector string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return 1
	}
	links := doc.Find(selector)
	if links.Length() == 0 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(links.Last().Text()))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// setQueryParam 设置查询参数并保持其余参数的原始顺序
func setQueryParam(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("解析页面地址失败: %w", err)
	}
	pair := url.QueryEscape(key) + "=" + url.QueryEscape(value)

	var parts []string
	if u.RawQuery != "" {
		parts = strings.Split(u.RawQuery, "&")
	}
	found := false
	for i, p := range parts {
		name, _, _ := strings.Cut(p, "=")
		if unescaped, err := url.QueryUnescape(name); err == nil && unescaped == key {
			parts[i] = pair
			found = true
		}
	}
	if !found {
		parts = append(parts, pair)
	}
	u.RawQuery = strings.Join(parts, "&")
	return u.String(), nil
}

// resolveIndexed 按文档顺序中的位置重新定位元素, 并用文本核对.
// 位置不匹配时退回到按文本查找.
func resolveIndexed(s crawlers.Session, loc crawlers.Locator, index int, name string) (crawlers.Element, error) {
	els, err := s.FindAll(loc)
	if err != nil {
		return nil, err
	}
	if index >= 0 && index < len(els) {
		if text, err := els[index].Text(); err == nil && strings.TrimSpace(text) == name {
			return els[index], nil
		}
	}
	if el, ok := crawlers.FindByText(els, name); ok {
		return el, nil
	}
	return nil, fmt.Errorf("%w: %s %q", crawlers.ErrElementNotFound, loc, name)
}
