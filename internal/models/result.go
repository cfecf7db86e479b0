package models

import (
	"bytes"
	"encoding/json"
)

const (
	// ErrorKey 错误标记键
	ErrorKey = "__error__"
	// DegradedKey 降级标记键, 表示有页面在502/503重试耗尽后被继续使用
	DegradedKey = "__degraded__"

	// FlatSubcategory 平铺类别结构中唯一的子类别键
	FlatSubcategory = "Все дела"

	PlaceholderNoData  = "<div class='placeholder'>Нет данных</div>"
	PlaceholderNoCases = "<div class='placeholder'>Дела не найдены</div>"
)

// CellStatus 子类别结果状态
type CellStatus string

const (
	CellOK      CellStatus = "ok"      // 获取到表格
	CellEmpty   CellStatus = "empty"   // 无记录, HTML为占位符
	CellSkipped CellStatus = "skipped" // 验证码重试耗尽, 结果缺失
	CellError   CellStatus = "error"
)

// Cell 子类别检索结果
type Cell struct {
	Status          CellStatus `json:"status"`
	HTML            string     `json:"html,omitempty"`
	Error           string     `json:"error,omitempty"`
	Pages           int        `json:"pages,omitempty"`
	Degraded        bool       `json:"degraded,omitempty"`
	CaptchaAttempts int        `json:"captcha_attempts,omitempty"`
}

// TableCell 根据HTML生成结果, 占位符视为无记录
func TableCell(html string, pages int) Cell {
	status := CellOK
	if html == PlaceholderNoData || html == PlaceholderNoCases {
		status = CellEmpty
	}
	return Cell{Status: status, HTML: html, Pages: pages}
}

// ErrorCell 错误结果
func ErrorCell(msg string) Cell {
	return Cell{Status: CellError, Error: msg}
}

// SkippedCell 跳过的结果(不计为错误)
func SkippedCell(reason string) Cell {
	return Cell{Status: CellSkipped, Error: reason}
}

// SubcategoryResult 子类别节点
type SubcategoryResult struct {
	Name string `json:"name"`
	Cell
}

// CategoryResult 类别节点, 子类别按发现顺序排列
type CategoryResult struct {
	Name          string               `json:"name"`
	Subcategories []*SubcategoryResult `json:"subcategories"`
}

// Set 写入子类别结果, 同名子类别被覆盖但保持原位置
func (c *CategoryResult) Set(subcategory string, cell Cell) {
	for _, s := range c.Subcategories {
		if s.Name == subcategory {
			s.Cell = cell
			return
		}
	}
	c.Subcategories = append(c.Subcategories, &SubcategoryResult{Name: subcategory, Cell: cell})
}

// VariantResult 单个姓名变体的结果
type VariantResult struct {
	Query      string            `json:"query"`
	Error      string            `json:"error,omitempty"`
	Categories []*CategoryResult `json:"categories"`
}

// Category 获取或创建类别节点
func (v *VariantResult) Category(name string) *CategoryResult {
	for _, c := range v.Categories {
		if c.Name == name {
			return c
		}
	}
	c := &CategoryResult{Name: name}
	v.Categories = append(v.Categories, c)
	return c
}

// Set 写入 类别/子类别 结果
func (v *VariantResult) Set(category, subcategory string, cell Cell) {
	v.Category(category).Set(subcategory, cell)
}

// CourtResult 单个法院的结果
type CourtResult struct {
	Name     string           `json:"name"`
	Address  string           `json:"address"`
	Flavor   Flavor           `json:"flavor"`
	Error    string           `json:"error,omitempty"`
	Degraded bool             `json:"degraded,omitempty"`
	Variants []*VariantResult `json:"variants"`
}

// Variant 获取或创建姓名变体节点
func (c *CourtResult) Variant(query string) *VariantResult {
	for _, v := range c.Variants {
		if v.Query == query {
			return v
		}
	}
	v := &VariantResult{Query: query}
	c.Variants = append(c.Variants, v)
	return v
}

// ResultTree 法院 → 姓名变体 → 类别 → 子类别 → 表格HTML
// 插入顺序即输出顺序
type ResultTree struct {
	Courts []*CourtResult `json:"courts"`
}

// NewResultTree 创建空结果树
func NewResultTree() *ResultTree {
	return &ResultTree{Courts: make([]*CourtResult, 0, 1)}
}

// Clone 深拷贝结果树
func (t *ResultTree) Clone() *ResultTree {
	out := &ResultTree{Courts: make([]*CourtResult, 0, len(t.Courts))}
	for _, c := range t.Courts {
		court := *c
		court.Variants = make([]*VariantResult, 0, len(c.Variants))
		for _, v := range c.Variants {
			variant := *v
			variant.Categories = make([]*CategoryResult, 0, len(v.Categories))
			for _, cat := range v.Categories {
				category := &CategoryResult{Name: cat.Name, Subcategories: make([]*SubcategoryResult, 0, len(cat.Subcategories))}
				for _, sub := range cat.Subcategories {
					cp := *sub
					category.Subcategories = append(category.Subcategories, &cp)
				}
				variant.Categories = append(variant.Categories, category)
			}
			court.Variants = append(court.Variants, &variant)
		}
		out.Courts = append(out.Courts, &court)
	}
	return out
}

// SiteKey 作业级错误使用的键
func SiteKey(address string) string {
	return "Сайт " + address
}

// Court 获取或创建法院节点
func (t *ResultTree) Court(name string) *CourtResult {
	for _, c := range t.Courts {
		if c.Name == name {
			return c
		}
	}
	c := &CourtResult{Name: name}
	t.Courts = append(t.Courts, c)
	return c
}

// Fail 记录作业级错误, 以 "Сайт {address}" 为键
func (t *ResultTree) Fail(address, msg string) *CourtResult {
	c := t.Court(SiteKey(address))
	c.Address = address
	c.Error = msg
	return c
}

// HasError 是否存在作业级错误
func (t *ResultTree) HasError() bool {
	for _, c := range t.Courts {
		if c.Error != "" {
			return true
		}
	}
	return false
}

// ResultStats 结果统计
type ResultStats struct {
	Variants      int `json:"variants"`
	Categories    int `json:"categories"`
	Subcategories int `json:"subcategories"`
	Tables        int `json:"tables"`
	Empty         int `json:"empty"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
	Pages         int `json:"pages"`
}

// Stats 统计结果树
func (t *ResultTree) Stats() ResultStats {
	var s ResultStats
	for _, c := range t.Courts {
		if c.Error != "" {
			s.Errors++
		}
		for _, v := range c.Variants {
			s.Variants++
			if v.Error != "" {
				s.Errors++
			}
			for _, cat := range v.Categories {
				s.Categories++
				for _, sub := range cat.Subcategories {
					s.Subcategories++
					s.Pages += sub.Pages
					switch sub.Status {
					case CellOK:
						s.Tables++
					case CellEmpty:
						s.Empty++
					case CellSkipped:
						s.Skipped++
					case CellError:
						s.Errors++
					}
				}
			}
		}
	}
	return s
}

// ResultRow 结果树的扁平行, 用于存储
type ResultRow struct {
	Court       string
	Address     string
	Flavor      Flavor
	Variant     string
	Category    string
	Subcategory string
	Cell
}

// Rows 按顺序展开结果树; 作业级错误和法院级降级标记以空变体行表示
func (t *ResultTree) Rows() []ResultRow {
	rows := make([]ResultRow, 0)
	for _, c := range t.Courts {
		if c.Error != "" || c.Degraded || len(c.Variants) == 0 {
			rows = append(rows, ResultRow{
				Court:   c.Name,
				Address: c.Address,
				Flavor:  c.Flavor,
				Cell:    Cell{Status: CellError, Error: c.Error, Degraded: c.Degraded},
			})
		}
		for _, v := range c.Variants {
			if v.Error != "" || len(v.Categories) == 0 {
				row := ResultRow{Court: c.Name, Address: c.Address, Flavor: c.Flavor, Variant: v.Query}
				if v.Error != "" {
					row.Cell = ErrorCell(v.Error)
				}
				rows = append(rows, row)
			}
			for _, cat := range v.Categories {
				for _, sub := range cat.Subcategories {
					rows = append(rows, ResultRow{
						Court:       c.Name,
						Address:     c.Address,
						Flavor:      c.Flavor,
						Variant:     v.Query,
						Category:    cat.Name,
						Subcategory: sub.Name,
						Cell:        sub.Cell,
					})
				}
			}
		}
	}
	return rows
}

// FromRows 由扁平行重建结果树
func FromRows(rows []ResultRow) *ResultTree {
	t := NewResultTree()
	for _, r := range rows {
		c := t.Court(r.Court)
		c.Address = r.Address
		c.Flavor = r.Flavor
		if r.Variant == "" {
			if r.Status == CellError {
				c.Error = r.Error
			}
			c.Degraded = c.Degraded || r.Degraded
			continue
		}
		c.Degraded = c.Degraded || r.Degraded
		v := c.Variant(r.Variant)
		if r.Category == "" {
			v.Error = r.Error
			continue
		}
		v.Set(r.Category, r.Subcategory, r.Cell)
	}
	return t
}

// MarshalJSON 输出嵌套映射, 保持插入顺序:
//
//	{"法院": {"变体": {"类别": {"子类别": "<table>..."}}}}
//
// 错误叶子为 {"__error__": "..."}, 跳过的子类别不输出.
func (t *ResultTree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range t.Courts {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, c.Name); err != nil {
			return nil, err
		}
		if err := c.writeJSON(&buf); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *CourtResult) writeJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	n := 0
	sep := func() {
		if n > 0 {
			buf.WriteByte(',')
		}
		n++
	}
	if c.Error != "" {
		sep()
		if err := writeKey(buf, ErrorKey); err != nil {
			return err
		}
		if err := writeValue(buf, c.Error); err != nil {
			return err
		}
	}
	if c.Degraded {
		sep()
		if err := writeKey(buf, DegradedKey); err != nil {
			return err
		}
		buf.WriteString("true")
	}
	for _, v := range c.Variants {
		sep()
		if err := writeKey(buf, v.Query); err != nil {
			return err
		}
		buf.WriteByte('{')
		if v.Error != "" {
			if err := writeKey(buf, ErrorKey); err != nil {
				return err
			}
			if err := writeValue(buf, v.Error); err != nil {
				return err
			}
		}
		for j, cat := range v.Categories {
			if j > 0 || v.Error != "" {
				buf.WriteByte(',')
			}
			if err := writeKey(buf, cat.Name); err != nil {
				return err
			}
			buf.WriteByte('{')
			m := 0
			for _, sub := range cat.Subcategories {
				if sub.Status == CellSkipped {
					continue
				}
				if m > 0 {
					buf.WriteByte(',')
				}
				m++
				if err := writeKey(buf, sub.Name); err != nil {
					return err
				}
				var leaf interface{} = sub.HTML
				if sub.Status == CellError {
					leaf = map[string]string{ErrorKey: sub.Error}
				}
				if err := writeValue(buf, leaf); err != nil {
					return err
				}
			}
			buf.WriteByte('}')
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	if err := writeValue(buf, key); err != nil {
		return err
	}
	buf.WriteByte(':')
	return nil
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
