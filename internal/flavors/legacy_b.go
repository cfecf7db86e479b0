package flavors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/courtcrawl/internal/captcha"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/tables"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// 黄色模板(sudrf)的页面元素
var (
	menuLinks     = crawlers.CSS("a.menu__link")
	searchButton  = crawlers.XPath("//a[b[contains(text(),'Поиск информации по делам')]]")
	changeButton  = crawlers.XPath("//a[text()='Изменить']")
	captchaMarker = crawlers.CSS("#captcha")

	categoryItems = crawlers.CSS("#content div")
	categoryReady = crawlers.CSS("#content div[onclick]")
	formBox       = crawlers.CSS("#content .box.box_common.m-all_m")
	caseType      = crawlers.CSS("#case_type div")
	firstField    = crawlers.CSS("[name=U1_DEFENDANT__NAMESS]")
	surnameInput  = crawlers.XPath("//td[text()='Фамилия']/following-sibling::td/input")
	submitButton  = crawlers.CSS("[name=Submit]")

	captchaInput = crawlers.CSS("[name=captcha]")
	captchaImage = crawlers.XPath("//input[@name='captcha']/ancestor::td[1]//img")
	errorBox     = crawlers.CSS("#error")
	heading3     = crawlers.CSS("h3")

	nextPageLink = crawlers.XPath("//a[@title='Следующая страница']")
)

const (
	captchaWrongText   = "Неверно указан проверочный код с картинки."
	invalidRequestText = "Данный запрос некорректен"
	cancelCategory     = "Отмена"
)

var legacyBResults = tables.Spec{
	Ready:     crawlers.CSS("#tablcont"),
	NoRecords: []crawlers.Locator{errorBox},
	Select:    "table#tablcont",
}

// categoryNode 类别及其子类别, 只保存名称和位置, 不保存元素句柄
type categoryNode struct {
	Name          string
	Subcategories []subcategoryNode
}

type subcategoryNode struct {
	Name  string
	index int // 在 "#content div" 中的位置
}

// parseCategoryList 解析类别选择页: 含<strong>的div开始一个类别,
// 带缩进和onclick的div是子类别
func parseCategoryList(source string) []categoryNode {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil
	}

	var nodes []categoryNode
	current := -1
	doc.Find("#content div").Each(func(i int, div *goquery.Selection) {
		if strong := div.Find("strong"); strong.Length() > 0 {
			name := strings.TrimSpace(strong.First().Text())
			if strings.EqualFold(name, cancelCategory) || name == "" {
				current = -1
				return
			}
			current = indexOfCategory(nodes, name)
			if current < 0 {
				nodes = append(nodes, categoryNode{Name: name})
				current = len(nodes) - 1
			}
			return
		}

		style, _ := div.Attr("style")
		onclick, _ := div.Attr("onclick")
		if current < 0 || onclick == "" || !strings.Contains(strings.ReplaceAll(style, " ", ""), "padding-left:30px") {
			return
		}
		name := strings.TrimSpace(div.Text())
		if name == "" || strings.EqualFold(name, cancelCategory) {
			return
		}
		nodes[current].Subcategories = append(nodes[current].Subcategories, subcategoryNode{Name: name, index: i})
	})
	return nodes
}

func indexOfCategory(nodes []categoryNode, name string) int {
	for i, n := range nodes {
		if n.Name == name {
			return i
		}
	}
	return -1
}

// legacyB 黄色模板常规与多服务器类型共用的流程
type legacyB struct {
	env     *Env
	variant string
	// open 从落地页进入类别选择页, 返回是否需要验证码
	open        func(ctx context.Context) (bool, error)
	prefix      string
	formTimeout time.Duration

	captcha   bool
	firstForm bool
}

// categoryList 等待并读取当前页面的类别列表
func (b *legacyB) categoryList(ctx context.Context) ([]categoryNode, error) {
	if _, err := b.env.Session.Find(ctx, categoryReady, b.env.Timeouts.Results); err != nil && !errors.Is(err, crawlers.ErrElementNotFound) {
		return nil, err
	}
	source, err := b.env.Session.Source()
	if err != nil {
		return nil, err
	}
	return parseCategoryList(source), nil
}

// resolveSubcategory 在当前页面上重新定位子类别
func (b *legacyB) resolveSubcategory(ctx context.Context, category, subcategory string) (crawlers.Element, error) {
	nodes, err := b.categoryList(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Name != category {
			continue
		}
		for _, sub := range n.Subcategories {
			if sub.Name == subcategory {
				return resolveIndexed(b.env.Session, categoryItems, sub.index, sub.Name)
			}
		}
	}
	return nil, fmt.Errorf("%w: 子类别 %s / %s", crawlers.ErrElementNotFound, category, subcategory)
}

func (b *legacyB) run(ctx context.Context, out *models.VariantResult) error {
	required, err := b.open(ctx)
	if err != nil {
		return err
	}
	b.captcha = required
	b.firstForm = true

	nodes, err := b.categoryList(ctx)
	if err != nil {
		return err
	}
	utils.Infof("[%s] %s类别数: %d, 需要验证码: %v", b.env.Court, b.prefix, len(nodes), b.captcha)

	for _, cat := range nodes {
		key := b.prefix + cat.Name
		out.Category(key)
		for _, sub := range cat.Subcategories {
			b.env.report("Проверка %s / %s : %s", key, sub.Name, b.variant)
			err := b.env.runCell(ctx, out, key, sub.Name, func() (string, int, error) {
				return b.searchSubcategory(ctx, cat.Name, sub.Name)
			})
			if err != nil {
				return err
			}
			if err := b.backToCategories(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *legacyB) searchSubcategory(ctx context.Context, category, subcategory string) (string, int, error) {
	if err := b.selectSubcategory(ctx, category, subcategory); err != nil {
		return "", 0, err
	}
	if err := b.enterSurname(ctx); err != nil {
		return "", 0, err
	}

	if b.captcha {
		if err := b.env.solveCaptcha(ctx, b.challenge(category, subcategory)); err != nil {
			return "", 0, err
		}
	} else if err := b.env.click(ctx, submitButton, 0); err != nil {
		return "", 0, err
	}

	spec := legacyBResults
	spec.Timeout = b.env.Timeouts.Results
	return b.env.collectByNext(ctx, spec, nextPageLink)
}

// selectSubcategory 点击子类别并等待第二步表单
func (b *legacyB) selectSubcategory(ctx context.Context, category, subcategory string) error {
	el, err := b.resolveSubcategory(ctx, category, subcategory)
	if err != nil {
		return err
	}
	if err := b.env.clickElement(ctx, el); err != nil {
		return err
	}
	if _, err := b.env.find(ctx, formBox, b.formTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrFormMissing, err)
	}
	if _, err := b.env.find(ctx, caseType, b.env.Timeouts.Results); err != nil {
		return fmt.Errorf("%w: %v", ErrFormMissing, err)
	}
	return nil
}

func (b *legacyB) enterSurname(ctx context.Context) error {
	if b.firstForm {
		if _, err := b.env.find(ctx, firstField, b.env.Timeouts.Results); err != nil {
			return fmt.Errorf("%w: %v", ErrFormMissing, err)
		}
		b.firstForm = false
	}
	if err := b.env.typeInto(ctx, surnameInput, b.variant, b.env.Timeouts.Results); err != nil {
		return err
	}
	return b.env.verify(ctx)
}

func (b *legacyB) challenge(category, subcategory string) captcha.Challenge {
	return captcha.Challenge{
		Image:    captchaImage,
		Source:   captcha.ImageDataURI,
		Input:    captchaInput,
		Submit:   submitButton,
		Rejected: captchaRejected,
		Restart: func(ctx context.Context, s crawlers.Session) error {
			if err := s.Back(ctx); err != nil {
				return err
			}
			if err := s.Reload(ctx); err != nil {
				return err
			}
			if err := b.env.verify(ctx); err != nil {
				return err
			}
			if !s.Has(captchaInput) {
				if err := b.env.click(ctx, changeButton, b.env.Timeouts.Results); err != nil {
					return err
				}
				if err := b.selectSubcategory(ctx, category, subcategory); err != nil {
					return err
				}
			}
			if _, err := b.env.find(ctx, captchaInput, b.env.Timeouts.Results); err != nil {
				return err
			}
			return b.env.typeInto(ctx, surnameInput, b.variant, b.env.Timeouts.Results)
		},
	}
}

// captchaRejected 页面出现"验证码错误"或"请求无效"
func captchaRejected(s crawlers.Session) bool {
	return s.Has(errorBox.WithText(captchaWrongText)) || s.Has(heading3.WithText(invalidRequestText))
}

// backToCategories 回到类别选择页; 返回按钮不可用时从落地页重新进入
func (b *legacyB) backToCategories(ctx context.Context) error {
	err := b.env.click(ctx, searchButton, b.env.Timeouts.Results)
	if err == nil {
		err = b.env.click(ctx, changeButton, b.env.Timeouts.Results)
	}
	if err == nil {
		return nil
	}
	if Fatal(ctx, err) {
		return err
	}
	utils.Warnf("[%s] 返回类别列表失败, 重新进入检索页: %v", b.env.Court, err)
	required, err := b.open(ctx)
	if err != nil {
		return err
	}
	b.captcha = required
	return nil
}

// openSearch 落地页 → 案件审理 → 案件检索 → 修改条件(类别选择页)
func openSearch(ctx context.Context, e *Env, address string) (bool, error) {
	if err := e.navigate(ctx, address); err != nil {
		return false, err
	}
	link, err := findCaseSection(ctx, e.Session, e.Timeouts.Element)
	if err != nil {
		return false, err
	}
	if err := e.clickElement(ctx, link); err != nil {
		return false, err
	}
	return openSearchForm(ctx, e)
}

// openSearchForm 在案件审理栏目内打开检索表单
func openSearchForm(ctx context.Context, e *Env) (bool, error) {
	if err := e.click(ctx, searchButton, e.Timeouts.Results); err != nil {
		if errors.Is(err, crawlers.ErrElementNotFound) {
			return false, fmt.Errorf("%w: %v", ErrSearchSectionMissing, err)
		}
		return false, err
	}
	required := e.Session.Has(captchaMarker)

	if err := e.click(ctx, changeButton, e.Timeouts.Results); err != nil {
		if Fatal(ctx, err) {
			return false, err
		}
		utils.Warnf("[%s] 未找到\"修改\"按钮: %v", e.Court, err)
	}
	return required, nil
}

// Regular 黄色模板常规类型
type Regular struct{}

func (Regular) Flavor() models.Flavor { return models.FlavorRegular }

func (Regular) Run(ctx context.Context, env *Env, address, variant string, out *models.VariantResult) error {
	b := &legacyB{
		env:         env,
		variant:     variant,
		formTimeout: env.Timeouts.Form,
		open: func(ctx context.Context) (bool, error) {
			return openSearch(ctx, env, address)
		},
	}
	return b.run(ctx, out)
}
