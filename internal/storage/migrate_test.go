package storage

import (
	"context"
	"testing"

	"github.com/user/moontv/internal/model"
)

func legacyConfigFixture() *model.AdminConfig {
	return &model.AdminConfig{
		SiteConfig: model.SiteConfig{
			SiteName:                "MoonTV",
			Announcement:            "测试公告",
			ConfigFile:              `{"cache_time":7200}`,
			SearchDownstreamMaxPage: 5,
			SiteInterfaceCacheTime:  7200,
		},
		UserConfig: model.UserConfig{
			AllowRegister: true,
			Users: []model.UserEntry{
				{Username: "owner", Role: model.RoleOwner},
				{Username: "alice", Role: model.RoleAdmin},
				{Username: "bob", Role: model.RoleUser},
				{Username: "carol", Role: model.RoleUser, Banned: true},
			},
		},
		SourceConfig: []model.SourceItem{
			{Key: "dyttzy", Name: "电影天堂", API: "http://example.com/api.php/provide/vod", From: "config"},
		},
		CustomCategories: []model.CustomCategory{
			{Name: "华语", Type: "movie", Query: "华语", From: "config"},
		},
	}
}

func TestMigrateFromLegacy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	_ = s.SetAdminConfig(ctx, legacyConfigFixture())

	migrated, err := MigrateFromLegacy(ctx, s)
	if err != nil {
		t.Fatalf("MigrateFromLegacy: %v", err)
	}
	if !migrated {
		t.Fatal("应返回 true")
	}

	siteConfig, _ := s.GetSiteConfig(ctx)
	if siteConfig == nil || siteConfig.SiteName != "MoonTV" {
		t.Fatalf("站点配置未迁移: %+v", siteConfig)
	}
	if siteConfig.ConfigFile != `{"cache_time":7200}` {
		t.Errorf("订阅配置文件丢失: %q", siteConfig.ConfigFile)
	}
	sources, _ := s.GetSourceConfig(ctx)
	if len(sources) != 1 || sources[0].Key != "dyttzy" {
		t.Fatalf("视频源未迁移: %+v", sources)
	}
	categories, _ := s.GetCustomCategories(ctx)
	if len(categories) != 1 {
		t.Fatalf("自定义分类未迁移: %+v", categories)
	}
	allow, _ := s.GetAllowRegister(ctx)
	if !allow {
		t.Error("注册开关未迁移")
	}

	// 非默认角色落盘，默认角色不落盘
	role, _ := s.GetUserRole(ctx, "alice")
	if role != model.RoleAdmin {
		t.Errorf("alice 角色 = %q", role)
	}
	role, _ = s.GetUserRole(ctx, "bob")
	if role != "" {
		t.Errorf("bob 不应有角色记录，得到 %q", role)
	}
	banned, _ := s.GetUserBanned(ctx, "carol")
	if !banned {
		t.Error("carol 封禁标记未迁移")
	}
	banned, _ = s.GetUserBanned(ctx, "bob")
	if banned {
		t.Error("bob 不应被封禁")
	}

	// 旧版 blob 必须删除
	legacy, _ := s.GetAdminConfig(ctx)
	if legacy != nil {
		t.Error("旧版 admin:config 未删除")
	}

	// 重跑应为空操作
	migrated, err = MigrateFromLegacy(ctx, s)
	if err != nil {
		t.Fatalf("重跑: %v", err)
	}
	if migrated {
		t.Error("重跑不应再次迁移")
	}
}

func TestMigrateFromLegacyNoLegacyData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	migrated, err := MigrateFromLegacy(ctx, s)
	if err != nil {
		t.Fatalf("MigrateFromLegacy: %v", err)
	}
	if migrated {
		t.Error("没有旧数据时应返回 false")
	}
}

// 任一新版字段已存在就视为已迁移，即使站点配置缺失
func TestMigrateFromLegacySkipsWhenAnySeparatedFieldPresent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	_ = s.SetAdminConfig(ctx, legacyConfigFixture())
	_ = s.SetSourceConfig(ctx, []model.SourceItem{{Key: "existing"}})

	migrated, err := MigrateFromLegacy(ctx, s)
	if err != nil {
		t.Fatalf("MigrateFromLegacy: %v", err)
	}
	if migrated {
		t.Error("已有新版字段时不应迁移")
	}

	// 旧数据保持原样，已有新版字段未被覆盖
	legacy, _ := s.GetAdminConfig(ctx)
	if legacy == nil {
		t.Error("旧版数据不应被删除")
	}
	sources, _ := s.GetSourceConfig(ctx)
	if len(sources) != 1 || sources[0].Key != "existing" {
		t.Errorf("已有视频源被覆盖: %+v", sources)
	}
}

func TestGetAdminConfigFromSeparatedUninitialized(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	cfg, err := GetAdminConfigFromSeparated(ctx, s)
	if err != nil {
		t.Fatalf("GetAdminConfigFromSeparated: %v", err)
	}
	if cfg != nil {
		t.Fatal("未初始化时应返回 nil")
	}
}

func TestSeparatedConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	_ = s.RegisterUser(ctx, "alice", "pw")
	_ = s.RegisterUser(ctx, "bob", "pw")
	// bob 原本是管理员，新配置降级为普通用户
	_ = s.SetUserRole(ctx, "bob", model.RoleAdmin)

	in := &model.AdminConfig{
		SiteConfig: model.SiteConfig{
			SiteName:               "MoonTV",
			SiteInterfaceCacheTime: 300,
			ConfigFile:             `{"custom":"subscription"}`,
		},
		UserConfig: model.UserConfig{
			AllowRegister: true,
			Users: []model.UserEntry{
				{Username: "alice", Role: model.RoleAdmin},
				{Username: "bob", Role: model.RoleUser},
			},
		},
		SourceConfig:     []model.SourceItem{{Key: "src", Name: "资源站"}},
		CustomCategories: []model.CustomCategory{{Name: "华语", Type: "movie", Query: "华语"}},
	}
	if err := SetAdminConfigSeparated(ctx, s, in); err != nil {
		t.Fatalf("SetAdminConfigSeparated: %v", err)
	}

	// 降级后角色记录应被删除
	role, _ := s.GetUserRole(ctx, "bob")
	if role != "" {
		t.Errorf("bob 角色记录未删除，得到 %q", role)
	}

	out, err := GetAdminConfigFromSeparated(ctx, s)
	if err != nil {
		t.Fatalf("GetAdminConfigFromSeparated: %v", err)
	}
	if out == nil {
		t.Fatal("组装结果为 nil")
	}
	if out.SiteConfig.SiteName != "MoonTV" {
		t.Errorf("SiteName = %q", out.SiteConfig.SiteName)
	}
	if out.SiteConfig.ConfigFile != `{"custom":"subscription"}` {
		t.Errorf("ConfigFile = %q", out.SiteConfig.ConfigFile)
	}
	if !out.UserConfig.AllowRegister {
		t.Error("AllowRegister 丢失")
	}
	if len(out.SourceConfig) != 1 || out.SourceConfig[0].Key != "src" {
		t.Errorf("SourceConfig = %+v", out.SourceConfig)
	}
	if len(out.CustomCategories) != 1 {
		t.Errorf("CustomCategories = %+v", out.CustomCategories)
	}

	byName := make(map[string]model.UserEntry)
	for _, u := range out.UserConfig.Users {
		byName[u.Username] = u
	}
	if byName["alice"].Role != model.RoleAdmin {
		t.Errorf("alice 角色 = %q", byName["alice"].Role)
	}
	if byName["bob"].Role != model.RoleUser {
		t.Errorf("bob 角色 = %q", byName["bob"].Role)
	}
}
