package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// DefaultAcceptLanguage 法院站点均为俄语
const DefaultAcceptLanguage = "ru-RU,ru;q=0.9,en;q=0.8"

// HeaderManager 合并浏览器页面的附加请求头, 实现 models.HeaderProvider.
// 优先级: 默认 < 配置文件(browser.headers) < 命令行(-H).
// User-Agent 不在这里设置, 由浏览器配置(随机UA)决定.
type HeaderManager struct {
	defaults http.Header
	config   http.Header
	cli      http.Header

	once   sync.Once
	merged http.Header
	err    error
}

// NewHeaderManager 创建头部管理器
// 参数:
//   - configHeaders: 配置文件中的 browser.headers
//   - cliHeaders: 命令行传递的 "Name: Value" 列表
func NewHeaderManager(configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults: getDefaultHeaders(),
		config:   make(http.Header),
		cli:      make(http.Header),
	}
	for name, value := range configHeaders {
		hm.config.Set(name, value)
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}
	return hm, nil
}

// getDefaultHeaders 返回系统默认头部
func getDefaultHeaders() http.Header {
	return http.Header{
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": []string{DefaultAcceptLanguage},
	}
}

// Validate 验证所有头部的合法性
// 验证顺序: 默认 → 配置 → 命令行
func (hm *HeaderManager) Validate() error {
	if err := utils.ValidateHeaders(hm.defaults); err != nil {
		utils.Errorf("默认头部验证失败: %v", err)
		return err
	}
	if err := utils.ValidateHeaders(hm.config); err != nil {
		utils.Errorf("配置文件头部验证失败: %v", err)
		return err
	}
	if err := utils.ValidateHeaders(hm.cli); err != nil {
		utils.Errorf("命令行头部验证失败: %v", err)
		return err
	}
	return nil
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = values
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return utils.RedactHeaders(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口. 验证只执行一次, 可被多个作业并发调用.
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	hm.once.Do(func() {
		if hm.err = hm.Validate(); hm.err != nil {
			return
		}
		hm.merged = hm.GetMergedHeaders()
		utils.Debugf("浏览器附加请求头: %v", hm.GetSafeHeaders())
	})
	if hm.err != nil {
		return nil, hm.err
	}
	return hm.merged.Clone(), nil
}
