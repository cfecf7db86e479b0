package flavors

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/resilience"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// 写入结果树的错误文本
const (
	MsgUnsupported    = "Сайт не поддерживается"
	MsgUnavailable    = "Сайт не работает. Информация временно недоступна"
	MsgCourtError     = "Ошибка при работе с судом."
	MsgSearchMissing  = "Ошибка при работе с судом. Не найдена кнопка судебное делопроизводство"
	MsgNotSupportedB  = "Ошибка при работе с судом. Сайт не поддерживается"
	MsgExecutionError = "Ошибка выполнения проверки: "
)

// 地区门户(圣彼得堡治安法官)
const (
	RegionalHost      = "mirsud.spb.ru"
	RegionalCourtName = "Мировые судьи Санкт-Петербурга"
	RegionalSearchURL = "https://mirsud.spb.ru/cases/?type=civil&id=&full_name="
)

var (
	markerLegacyA = crawlers.CSS("#court_name")
	markerLegacyB = crawlers.CSS(".header__middle")
	headingTitle  = crawlers.CSS(".heading_title")

	markerMultiServer = crawlers.CSS(".statUl")
	markerModern      = crawlers.CSS(".round-border-container")
	markerUnavailable = crawlers.CSS(".error_errorer")
	contentBox        = crawlers.CSS(".box.box_common.m-all_m")
)

// Detection 检测结果
type Detection struct {
	Flavor models.Flavor
	Name   string
	// Reason 不支持或不可用时写入结果树的说明
	Reason string
}

// Supported 是否可以爬取
func (d Detection) Supported() bool {
	return d.Flavor.Supported() && d.Reason == ""
}

// Info 转换为对外的 CourtInfo
func (d Detection) Info(address string) models.CourtInfo {
	return models.CourtInfo{
		Address:   address,
		Supported: d.Supported(),
		Flavor:    d.Flavor,
		Name:      d.Name,
		Error:     d.Reason,
	}
}

func unsupported(reason string) Detection {
	return Detection{Flavor: models.FlavorUnsupported, Reason: reason}
}

// Detector 根据落地页判断网站类型. 只读取页面, 不提交任何表单.
type Detector struct {
	Layer   *resilience.Layer
	Timeout time.Duration
}

// NewDetector 创建检测器
func NewDetector(layer *resilience.Layer, timeout time.Duration) *Detector {
	if layer == nil {
		layer = resilience.New(resilience.DefaultMaxRetries, resilience.DefaultDelay)
	}
	if timeout <= 0 {
		timeout = DefaultTimeouts().Detect
	}
	return &Detector{Layer: layer, Timeout: timeout}
}

// Detect 加载address并识别网站类型.
// 返回的错误只表示会话本身不可用; 网站不受支持通过 Detection.Reason 表达.
func (d *Detector) Detect(ctx context.Context, s crawlers.Session, address string) (Detection, error) {
	if models.HostOf(address) == RegionalHost {
		utils.Infof("[%s] 地区门户, 使用固定检索页", address)
		return Detection{Flavor: models.FlavorRegional, Name: RegionalCourtName}, nil
	}

	if err := s.Navigate(ctx, address); err != nil {
		return Detection{}, err
	}
	if det, done, err := d.verify(ctx, s); done {
		return det, err
	}

	idx, err := s.WaitAny(ctx, d.Timeout, markerLegacyA, markerLegacyB)
	if errors.Is(err, crawlers.ErrWaitTimeout) {
		utils.Warnf("[%s] 未识别的网站结构", address)
		return unsupported(MsgUnsupported), nil
	}
	if err != nil {
		return Detection{}, err
	}

	if idx == 0 {
		name := elementText(s, markerLegacyA)
		if name == "" {
			return unsupported(MsgUnsupported), nil
		}
		utils.Infof("[%s] 网站类型: %s, 法院: %s", address, models.FlavorLegacyA, name)
		return Detection{Flavor: models.FlavorLegacyA, Name: name}, nil
	}

	name := elementText(s, headingTitle)
	if name == "" {
		return unsupported(MsgUnsupported), nil
	}
	det, err := d.detectLegacyB(ctx, s, address)
	if err != nil {
		return Detection{}, err
	}
	det.Name = name
	utils.Infof("[%s] 网站类型: %s, 法院: %s", address, det.Flavor, name)
	return det, nil
}

// detectLegacyB 进入"案件审理"栏目, 根据二级页面细分类型
func (d *Detector) detectLegacyB(ctx context.Context, s crawlers.Session, address string) (Detection, error) {
	link, err := findCaseSection(ctx, s, d.Timeout)
	if errors.Is(err, ErrSearchSectionMissing) {
		utils.Warnf("[%s] 未找到案件审理栏目", address)
		return unsupported(MsgSearchMissing), nil
	}
	if err != nil {
		return Detection{}, err
	}
	if err := link.Click(ctx); err != nil {
		return Detection{}, err
	}
	if det, done, err := d.verify(ctx, s); done {
		return det, err
	}

	idx, err := s.WaitAny(ctx, d.Timeout, markerMultiServer, markerModern, markerUnavailable, contentBox)
	if err != nil && !errors.Is(err, crawlers.ErrWaitTimeout) {
		return Detection{}, err
	}
	switch idx {
	case 0:
		return Detection{Flavor: models.FlavorMultiServer}, nil
	case 1:
		return Detection{Flavor: models.FlavorModern}, nil
	case 2:
		return unsupported(MsgNotSupportedB), nil
	}

	if strings.Contains(elementText(s, contentBox), crawlers.UnavailableBanner) {
		utils.Warnf("[%s] %s", address, MsgUnavailable)
		return Detection{Flavor: models.FlavorRegular, Reason: MsgUnavailable}, nil
	}
	return Detection{Flavor: models.FlavorRegular}, nil
}

// verify 校验页面; 站点不可用时返回 done=true 与对应的检测结果
func (d *Detector) verify(ctx context.Context, s crawlers.Session) (Detection, bool, error) {
	_, err := d.Layer.VerifyPage(ctx, s)
	switch {
	case err == nil:
		return Detection{}, false, nil
	case errors.Is(err, resilience.ErrSiteUnavailable):
		return unsupported(MsgUnavailable), true, nil
	default:
		return Detection{}, true, err
	}
}

// findCaseSection 在主菜单中查找指向 sud_delo 的链接
func findCaseSection(ctx context.Context, s crawlers.Session, timeout time.Duration) (crawlers.Element, error) {
	if _, err := s.Find(ctx, menuLinks, timeout); err != nil && !errors.Is(err, crawlers.ErrElementNotFound) {
		return nil, err
	}
	links, err := s.FindAll(menuLinks)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		href, ok, err := link.Attribute("href")
		if err != nil {
			return nil, err
		}
		if ok && strings.Contains(href, "sud_delo") {
			return link, nil
		}
	}
	return nil, ErrSearchSectionMissing
}

// elementText 读取元素文本, 元素不存在时返回空串
func elementText(s crawlers.Session, loc crawlers.Locator) string {
	els, err := s.FindAll(loc)
	if err != nil || len(els) == 0 {
		return ""
	}
	text, err := els[0].Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
