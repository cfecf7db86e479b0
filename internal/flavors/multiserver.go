package flavors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

var serverLinks = crawlers.CSS("ul.statUl li a")

// MultiServer 黄色模板多服务器类型: 类别遍历之前先选择后端服务器.
// 结果类别键带服务器名前缀.
type MultiServer struct{}

func (MultiServer) Flavor() models.Flavor { return models.FlavorMultiServer }

func (MultiServer) Run(ctx context.Context, env *Env, address, variant string, out *models.VariantResult) error {
	if err := openCaseSection(ctx, env, address); err != nil {
		return err
	}
	servers, err := serverNames(ctx, env)
	if err != nil {
		return err
	}
	utils.Infof("[%s] 服务器数: %d", env.Court, len(servers))

	for _, server := range servers {
		b := &legacyB{
			env:         env,
			variant:     variant,
			prefix:      server + ": ",
			formTimeout: env.Timeouts.MultiServerForm,
			open: func(ctx context.Context) (bool, error) {
				if err := openCaseSection(ctx, env, address); err != nil {
					return false, err
				}
				if err := selectServer(ctx, env, server); err != nil {
					return false, err
				}
				return openSearchForm(ctx, env)
			},
		}
		env.report("Сервер %s : %s", server, variant)
		if err := b.run(ctx, out); err != nil {
			if Fatal(ctx, err) {
				return err
			}
			utils.Warnf("[%s] 服务器 %s 检索失败: %v", env.Court, server, err)
			out.Set(server, models.FlatSubcategory, models.ErrorCell(err.Error()))
		}
	}
	return nil
}

// openCaseSection 落地页 → 案件审理栏目
func openCaseSection(ctx context.Context, e *Env, address string) error {
	if err := e.navigate(ctx, address); err != nil {
		return err
	}
	link, err := findCaseSection(ctx, e.Session, e.Timeouts.Element)
	if err != nil {
		return err
	}
	return e.clickElement(ctx, link)
}

// serverNames 读取服务器列表, 去重并保持顺序
func serverNames(ctx context.Context, e *Env) ([]string, error) {
	if _, err := e.find(ctx, serverLinks, 0); err != nil && !errors.Is(err, crawlers.ErrElementNotFound) {
		return nil, err
	}
	source, err := e.Session.Source()
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("解析服务器列表失败: %w", err)
	}
	seen := make(map[string]bool)
	var names []string
	doc.Find("ul.statUl li a").Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	})
	return names, nil
}

func selectServer(ctx context.Context, e *Env, server string) error {
	links, err := e.Session.FindAll(serverLinks)
	if err != nil {
		return err
	}
	link, ok := crawlers.FindByText(links, server)
	if !ok {
		return fmt.Errorf("%w: 服务器 %q", crawlers.ErrElementNotFound, server)
	}
	return e.clickElement(ctx, link)
}
