package flavors

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/RecoveryAshes/courtcrawl/internal/captcha"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/tables"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// 蓝色模板的页面元素
var (
	blueMenu        = crawlers.CSS(".menu-link")
	blueBookmarks   = crawlers.CSS(".bookmarks")
	blueSearch      = crawlers.CSS(".search")
	blueSearchError = crawlers.CSS(".search-error")
	blueNewSearch   = crawlers.CSS(".new-search")
	blueClear       = crawlers.CSS(".clear")

	blueCaptchaForm   = crawlers.CSS("#kcaptchaForm")
	blueCaptchaImage  = crawlers.CSS(`img[src="/captcha.php"]`)
	blueCaptchaInput  = crawlers.CSS("[name=captcha-response]")
	blueCaptchaSubmit = crawlers.CSS(".button-normal")
)

const (
	bluePageParam = "pageNum_Recordset1"
	bluePaging    = "ul.paging a"
)

var blueResults = tables.Spec{
	Ready:  crawlers.CSS("#search_results"),
	Select: "table#tablcont",
}

// blueCategory 蓝色模板的检索类别: 页签 + 姓名输入框.
// Tab为空表示在当前页签内清空表单后继续.
type blueCategory struct {
	Name  string
	Tab   string
	Field string
}

var blueCategories = []blueCategory{
	{Name: "Уголовные дела (Подсудимый (осужденный))", Tab: "#type_0", Field: "U1_DEFENDANT__NAMESS"},
	{Name: "Уголовные дела (Лицо, участвующее в деле)", Field: "U1_PARTS__NAMESS"},
	{Name: "Административные и гражданские дела", Tab: "#type_1", Field: "G1_PARTS__NAMESS"},
	{Name: "Дела об административных правонарушениях", Tab: "#type_2", Field: "adm_parts__NAMESS"},
	{Name: "Производство по делам", Tab: "#type_3", Field: "M_PARTS__NAMESS"},
}

// LegacyA 蓝色模板. 类别是平铺的, 子类别固定为 models.FlatSubcategory.
// 每次页面变化后除了常规校验, 还要检查是否弹出了验证码页.
type LegacyA struct{}

func (LegacyA) Flavor() models.Flavor { return models.FlavorLegacyA }

func (LegacyA) Run(ctx context.Context, env *Env, address, variant string, out *models.VariantResult) error {
	a := &legacyARun{env: env, variant: variant}
	if err := a.open(ctx, address); err != nil {
		return err
	}

	for _, cat := range blueCategories {
		env.report("Проверка %s : %s", cat.Name, variant)
		err := env.runCell(ctx, out, cat.Name, models.FlatSubcategory, func() (string, int, error) {
			return a.search(ctx, cat)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type legacyARun struct {
	env     *Env
	variant string
}

// verify 502/503 校验, 验证码, 再次校验
func (a *legacyARun) verify(ctx context.Context) error {
	if err := a.env.verify(ctx); err != nil {
		return err
	}
	if !a.env.Session.Has(blueCaptchaForm) {
		return nil
	}
	utils.Warnf("[%s] 需要输入验证码", a.env.Court)
	return a.env.solveCaptcha(ctx, captcha.Challenge{
		Image:  blueCaptchaImage,
		Source: captcha.ImageScreenshot,
		Input:  blueCaptchaInput,
		Submit: blueCaptchaSubmit,
		Present: func(s crawlers.Session) bool {
			return s.Has(blueCaptchaForm) && s.Has(blueCaptchaInput)
		},
	})
}

func (a *legacyARun) click(ctx context.Context, loc crawlers.Locator) error {
	el, err := a.env.find(ctx, loc, 0)
	if err != nil {
		return err
	}
	if err := el.Click(ctx); err != nil {
		return err
	}
	return a.verify(ctx)
}

// open 落地页 → 案件检索
func (a *legacyARun) open(ctx context.Context, address string) error {
	if err := a.env.Session.Navigate(ctx, address); err != nil {
		return err
	}
	if err := a.verify(ctx); err != nil {
		return err
	}
	if err := a.click(ctx, blueMenu); err != nil {
		if errors.Is(err, crawlers.ErrElementNotFound) {
			return fmt.Errorf("%w: %v", ErrSearchSectionMissing, err)
		}
		return err
	}
	if _, err := a.env.find(ctx, blueBookmarks, 0); err != nil {
		if errors.Is(err, crawlers.ErrElementNotFound) {
			return fmt.Errorf("%w: %v", ErrSearchSectionMissing, err)
		}
		return err
	}
	return nil
}

// reset 关闭上一次的结果, 然后切换页签或清空表单.
// 清空时弹出的确认框由校验步骤接受.
func (a *legacyARun) reset(ctx context.Context, cat blueCategory) error {
	if a.env.Session.Has(blueNewSearch) {
		if err := a.click(ctx, blueNewSearch); err != nil {
			return err
		}
	}
	if cat.Tab != "" {
		return a.click(ctx, crawlers.CSS(cat.Tab))
	}
	return a.click(ctx, blueClear)
}

func (a *legacyARun) search(ctx context.Context, cat blueCategory) (string, int, error) {
	if err := a.reset(ctx, cat); err != nil {
		return "", 0, err
	}

	if err := a.env.typeInto(ctx, crawlers.CSS("[name="+cat.Field+"]"), a.variant, 0); err != nil {
		return "", 0, err
	}
	if err := a.click(ctx, blueSearch); err != nil {
		return "", 0, err
	}

	if a.env.Session.Has(blueSearchError) {
		return models.PlaceholderNoCases, 1, nil
	}
	source, err := a.env.Session.Source()
	if err != nil {
		return "", 0, err
	}
	total := totalPages(source, bluePaging)

	spec := blueResults
	spec.Timeout = a.env.Timeouts.Element
	pages := make([]string, 0, total)
	for n := 0; n < total; n++ {
		page, err := setQueryParam(a.env.Session.URL(), bluePageParam, strconv.Itoa(n))
		if err != nil {
			return "", 0, err
		}
		if err := a.env.Session.Navigate(ctx, page); err != nil {
			return "", 0, err
		}
		if err := a.verify(ctx); err != nil {
			return "", 0, err
		}
		html, err := tables.Extract(ctx, a.env.Session, spec)
		if err != nil {
			return "", 0, err
		}
		pages = append(pages, html)
	}
	utils.Debugf("[%s] %s: %d 页", a.env.Court, cat.Name, total)
	return tables.Merge(pages), total, nil
}
