package model

// SiteConfig 站点配置
// ConfigFile 是自由格式的订阅配置 JSON，随站点配置整体持久化
type SiteConfig struct {
	SiteName                string `json:"SiteName"`
	Announcement            string `json:"Announcement"`
	ConfigFile              string `json:"ConfigFile,omitempty"`
	SearchDownstreamMaxPage int    `json:"SearchDownstreamMaxPage"` // 聚合搜索翻页上限
	SiteInterfaceCacheTime  int    `json:"SiteInterfaceCacheTime"`  // 配置缓存秒数
	DoubanProxyType         string `json:"DoubanProxyType,omitempty"`
	DoubanProxy             string `json:"DoubanProxy,omitempty"`
	DisableYellowFilter     bool   `json:"DisableYellowFilter"`
	FluidSearch             bool   `json:"FluidSearch"`
}

// SourceItem 视频源配置项
type SourceItem struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	API      string `json:"api"`
	Detail   string `json:"detail,omitempty"`
	From     string `json:"from"` // config 或 custom
	Disabled bool   `json:"disabled"`
}

// CustomCategory 自定义分类
type CustomCategory struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"` // movie 或 tv
	Query    string `json:"query"`
	From     string `json:"from"`
	Disabled bool   `json:"disabled"`
}

// UserConfig 用户总表配置
type UserConfig struct {
	AllowRegister bool        `json:"AllowRegister"`
	Users         []UserEntry `json:"Users"`
}

// AdminConfig 管理员配置聚合
// 旧版整体存储于 admin:config，新版按字段分离存储
type AdminConfig struct {
	SiteConfig       SiteConfig       `json:"SiteConfig"`
	UserConfig       UserConfig       `json:"UserConfig"`
	SourceConfig     []SourceItem     `json:"SourceConfig"`
	CustomCategories []CustomCategory `json:"CustomCategories"`
}
