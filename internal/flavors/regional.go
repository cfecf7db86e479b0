package flavors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/tables"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

var (
	regionalCasesList = crawlers.CSS(".cases-list")
	regionalSelect    = crawlers.CSS(".fancy-select")
	regionalOptions   = crawlers.CSS("select#affairs option")
	regionalTrigger   = crawlers.CSS(".fancy-select .trigger")
	regionalDateFrom  = crawlers.CSS("#id_date_from")
	regionalFullName  = crawlers.CSS("#id_full_name")
	regionalSubmit    = crawlers.CSS(".button-mobile button[type='submit']")
	regionalNextPage  = crawlers.CSS("a.pag__next.ng-scope")
)

const regionalDateFromValue = "01.01.1991"

var regionalResults = tables.Spec{
	Ready:     crawlers.CSS(".ng-binding"),
	NoRecords: []crawlers.Locator{crawlers.CSS(`table.rwd-table tr[ng-if="cases.length == 0"]`)},
	Select:    "table.rwd-table",
	Strict:    true,
}

// Regional 地区门户(圣彼得堡治安法官). 案件类型是平铺的下拉选项.
type Regional struct{}

func (Regional) Flavor() models.Flavor { return models.FlavorRegional }

func (Regional) Run(ctx context.Context, env *Env, _ string, variant string, out *models.VariantResult) error {
	if err := env.navigate(ctx, RegionalSearchURL); err != nil {
		return err
	}
	for _, loc := range []crawlers.Locator{regionalCasesList, regionalSelect} {
		if _, err := env.find(ctx, loc, 0); err != nil {
			if errors.Is(err, crawlers.ErrElementNotFound) {
				return fmt.Errorf("%w: %v", ErrSearchSectionMissing, err)
			}
			return err
		}
	}

	affairs, err := regionalAffairs(env)
	if err != nil {
		return err
	}
	if err := env.typeInto(ctx, regionalDateFrom, regionalDateFromValue, 0); err != nil {
		return err
	}
	utils.Infof("[%s] 案件类型数: %d", env.Court, len(affairs))

	for i, name := range affairs {
		env.report("Проверка %s : %s", name, variant)
		err := env.runCell(ctx, out, name, models.FlatSubcategory, func() (string, int, error) {
			return regionalSearch(ctx, env, i, name, variant)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func regionalAffairs(env *Env) ([]string, error) {
	source, err := env.Session.Source()
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("解析案件类型失败: %w", err)
	}
	var names []string
	doc.Find("select#affairs option").Each(func(_ int, opt *goquery.Selection) {
		names = append(names, strings.TrimSpace(opt.Text()))
	})
	return names, nil
}

func regionalSearch(ctx context.Context, env *Env, index int, name, variant string) (string, int, error) {
	opt, err := resolveIndexed(env.Session, regionalOptions, index, name)
	if err != nil {
		return "", 0, err
	}
	if err := opt.Click(ctx); err != nil {
		return "", 0, err
	}
	if err := env.click(ctx, regionalTrigger, 0); err != nil {
		return "", 0, err
	}
	if err := env.typeInto(ctx, regionalFullName, variant, 0); err != nil {
		return "", 0, err
	}
	if err := env.click(ctx, regionalSubmit, 0); err != nil {
		return "", 0, err
	}

	spec := regionalResults
	spec.Timeout = env.Timeouts.RegionalResults
	html, pages, err := env.collectByNext(ctx, spec, regionalNextPage)
	if errors.Is(err, tables.ErrNotReady) {
		return "", 0, fmt.Errorf("%w: %v", ErrResultsTimeout, err)
	}
	return html, pages, err
}
