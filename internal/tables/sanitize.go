package tables

import (
	"github.com/microcosm-cc/bluemonday"
)

var policy = newPolicy()

// newPolicy 保留表格结构与内容, 去掉 style、事件处理和排版属性
func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"table", "caption", "colgroup", "col", "thead", "tbody", "tfoot", "tr", "th", "td",
		"div", "span", "p", "br", "b", "strong", "i", "em", "u", "ul", "ol", "li", "small", "sup", "sub",
	)
	p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("td", "th")
	p.AllowAttrs("id", "class").Globally()
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowStandardURLs()
	p.AllowRelativeURLs(true)
	p.RequireNoFollowOnLinks(false)
	return p
}

// Sanitize 清理表格HTML中的展示属性, 内容与结构不变
func Sanitize(html string) string {
	return policy.Sanitize(html)
}
