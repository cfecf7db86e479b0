package tables

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
	"golang.org/x/net/html"
)

// Merge 合并多页表格: 以第一个含表格的页面为基础, 按顺序追加后续页面的数据行,
// 跳过只含<th>的表头行. 没有表格的页面不贡献任何行.
// 单页输入原样返回.
func Merge(pages []string) string {
	switch len(pages) {
	case 0:
		return models.PlaceholderNoData
	case 1:
		return pages[0]
	}

	baseIdx := -1
	var doc *goquery.Document
	for i, p := range pages {
		d, err := goquery.NewDocumentFromReader(strings.NewReader(p))
		if err != nil {
			continue
		}
		if d.Find("table").Length() > 0 {
			baseIdx, doc = i, d
			break
		}
	}
	if baseIdx < 0 {
		for _, p := range pages {
			if strings.TrimSpace(p) != "" {
				return p
			}
		}
		return models.PlaceholderNoData
	}

	table := doc.Find("table").First()
	body := table.ChildrenFiltered("tbody").First()
	if body.Length() == 0 {
		table.AppendHtml("<tbody></tbody>")
		body = table.ChildrenFiltered("tbody").First()
	}

	appended := 0
	for _, p := range pages[baseIdx+1:] {
		rows := dataRows(p)
		for _, row := range rows {
			body.AppendHtml(row)
		}
		appended += len(rows)
	}

	out, err := goquery.OuterHtml(table)
	if err != nil {
		utils.Warnf("合并表格失败, 返回第一页: %v", err)
		return pages[baseIdx]
	}
	utils.Debugf("合并 %d 页表格, 追加 %d 行", len(pages), appended)
	return out
}

// dataRows 返回页面第一个表格中的数据行(渲染后的HTML)
func dataRows(page string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil
	}

	var rows []string
	table.ChildrenFiltered("tbody").ChildrenFiltered("tr").Each(func(_ int, tr *goquery.Selection) {
		if isHeaderRow(tr) {
			return
		}
		var sb strings.Builder
		if err := html.Render(&sb, tr.Get(0)); err != nil {
			return
		}
		rows = append(rows, sb.String())
	})
	return rows
}

func isHeaderRow(tr *goquery.Selection) bool {
	return tr.ChildrenFiltered("td").Length() == 0 && tr.ChildrenFiltered("th").Length() > 0
}
