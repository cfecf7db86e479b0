package models

// Flavor 法院网站的实现类型, 每种类型需要不同的导航流程
type Flavor string

const (
	FlavorLegacyA     Flavor = "legacy_a"             // 蓝色模板(平铺类别)
	FlavorRegular     Flavor = "legacy_b_regular"     // 黄色模板, 常规
	FlavorModern      Flavor = "legacy_b_modern"      // 黄色模板, 新版表单
	FlavorMultiServer Flavor = "legacy_b_multiserver" // 黄色模板, 多后端服务器
	FlavorRegional    Flavor = "regional"             // 地区门户(圣彼得堡治安法官)
	FlavorUnsupported Flavor = "unsupported"
)

// Supported 是否为可爬取的类型
func (f Flavor) Supported() bool {
	switch f {
	case FlavorLegacyA, FlavorRegular, FlavorModern, FlavorMultiServer, FlavorRegional:
		return true
	}
	return false
}

// FlatCategories 类别列表是否为平铺结构(无子类别层级)
func (f Flavor) FlatCategories() bool {
	return f == FlavorLegacyA || f == FlavorRegional
}

// CourtInfo 法院检测结果, 可在不执行完整爬取的情况下单独使用
type CourtInfo struct {
	Address   string `json:"address"`
	Supported bool   `json:"supported"`
	Flavor    Flavor `json:"flavor"`
	Name      string `json:"name,omitempty"`
	Error     string `json:"error,omitempty"`
}
