package flavors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/courtcrawl/internal/captcha"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/tables"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

var (
	modernShowForm     = crawlers.CSS("#show-sf")
	modernProcessType  = crawlers.CSS("select#process-type")
	modernOptions      = crawlers.CSS("select#process-type option")
	modernSurname      = crawlers.CSS("#parts__namess")
	modernSearchButton = crawlers.CSS("#searchBtn")
	modernCaptchaImage = crawlers.XPath("//input[@id='captcha']/following::img[1]")
	modernNextPage     = crawlers.XPath("//a[normalize-space(text())='»']")
)

var modernResults = tables.Spec{
	Ready:     crawlers.CSS("#resultTable"),
	NoRecords: []crawlers.Locator{crawlers.CSS(".name-instanse").WithText("Данных по запросу не найдено")},
	Select:    "table.law-case-table",
}

// parseProcessTypes 解析 select#process-type: optgroup为类别, option为子类别
func parseProcessTypes(source string) []categoryNode {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil
	}
	var nodes []categoryNode
	doc.Find("select#process-type option").Each(func(i int, opt *goquery.Selection) {
		group := opt.Parent()
		if goquery.NodeName(group) != "optgroup" {
			return
		}
		label := strings.TrimSpace(group.AttrOr("label", ""))
		name := strings.TrimSpace(opt.Text())
		if label == "" || name == "" {
			return
		}
		idx := indexOfCategory(nodes, label)
		if idx < 0 {
			nodes = append(nodes, categoryNode{Name: label})
			idx = len(nodes) - 1
		}
		nodes[idx].Subcategories = append(nodes[idx].Subcategories, subcategoryNode{Name: name, index: i})
	})
	return nodes
}

// Modern 黄色模板新版表单类型
type Modern struct{}

func (Modern) Flavor() models.Flavor { return models.FlavorModern }

func (Modern) Run(ctx context.Context, env *Env, address, variant string, out *models.VariantResult) error {
	m := &modernRun{env: env, address: address, variant: variant}
	if err := m.open(ctx); err != nil {
		return err
	}

	nodes, err := m.processTypes(ctx)
	if err != nil {
		return err
	}
	utils.Infof("[%s] 类别数: %d, 需要验证码: %v", env.Court, len(nodes), m.captcha)

	for _, cat := range nodes {
		out.Category(cat.Name)
		for _, sub := range cat.Subcategories {
			env.report("Проверка %s / %s : %s", cat.Name, sub.Name, variant)
			err := env.runCell(ctx, out, cat.Name, sub.Name, func() (string, int, error) {
				return m.search(ctx, cat.Name, sub.Name)
			})
			if err != nil {
				return err
			}
			if err := m.reset(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

type modernRun struct {
	env     *Env
	address string
	variant string
	captcha bool
}

// open 落地页 → 案件审理 → 检索表单
func (m *modernRun) open(ctx context.Context) error {
	if err := openCaseSection(ctx, m.env, m.address); err != nil {
		return err
	}
	if err := m.env.click(ctx, modernShowForm, m.env.Timeouts.Results); err != nil {
		if errors.Is(err, crawlers.ErrElementNotFound) {
			return fmt.Errorf("%w: %v", ErrSearchSectionMissing, err)
		}
		return err
	}
	m.captcha = m.env.Session.Has(captchaMarker)
	return nil
}

// reset 展开检索表单准备下一个子类别, 失败时从落地页重新进入
func (m *modernRun) reset(ctx context.Context) error {
	err := m.env.click(ctx, modernShowForm, m.env.Timeouts.Results)
	if err == nil || Fatal(ctx, err) {
		return err
	}
	utils.Warnf("[%s] 展开检索表单失败, 重新进入: %v", m.env.Court, err)
	return m.open(ctx)
}

func (m *modernRun) processTypes(ctx context.Context) ([]categoryNode, error) {
	if _, err := m.env.find(ctx, modernProcessType, 0); err != nil && !errors.Is(err, crawlers.ErrElementNotFound) {
		return nil, err
	}
	source, err := m.env.Session.Source()
	if err != nil {
		return nil, err
	}
	return parseProcessTypes(source), nil
}

func (m *modernRun) selectOption(ctx context.Context, category, subcategory string) error {
	nodes, err := m.processTypes(ctx)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.Name != category {
			continue
		}
		for _, sub := range n.Subcategories {
			if sub.Name == subcategory {
				el, err := resolveIndexed(m.env.Session, modernOptions, sub.index, sub.Name)
				if err != nil {
					return err
				}
				return m.env.clickElement(ctx, el)
			}
		}
	}
	return fmt.Errorf("%w: 子类别 %s / %s", crawlers.ErrElementNotFound, category, subcategory)
}

func (m *modernRun) search(ctx context.Context, category, subcategory string) (string, int, error) {
	if err := m.selectOption(ctx, category, subcategory); err != nil {
		return "", 0, err
	}
	if err := m.env.typeInto(ctx, modernSurname, m.variant, 0); err != nil {
		return "", 0, err
	}
	if err := m.env.verify(ctx); err != nil {
		return "", 0, err
	}

	if m.captcha {
		if err := m.env.solveCaptcha(ctx, m.challenge()); err != nil {
			return "", 0, err
		}
	} else if err := m.env.click(ctx, submitButton, 0); err != nil {
		return "", 0, err
	}

	spec := modernResults
	spec.Timeout = m.env.Timeouts.Results
	return m.env.collectByNext(ctx, spec, modernNextPage)
}

func (m *modernRun) challenge() captcha.Challenge {
	return captcha.Challenge{
		Image:  modernCaptchaImage,
		Source: captcha.ImageDataURI,
		Input:  captchaInput,
		Submit: modernSearchButton,
		Rejected: func(s crawlers.Session) bool {
			return s.Has(errorBox) || s.Has(heading3.WithText(invalidRequestText))
		},
		Restart: func(ctx context.Context, s crawlers.Session) error {
			if err := s.Back(ctx); err != nil {
				return err
			}
			if err := s.Reload(ctx); err != nil {
				return err
			}
			if err := m.env.verify(ctx); err != nil {
				return err
			}
			if _, err := m.env.find(ctx, captchaInput, m.env.Timeouts.Results); err != nil {
				return err
			}
			return m.env.typeInto(ctx, modernSurname, m.variant, 0)
		},
	}
}
