package handler

import (
	"context"
	"time"

	"github.com/user/moontv/internal/config"
	"github.com/user/moontv/internal/model"
	"github.com/user/moontv/internal/storage"
	"github.com/user/moontv/internal/utils"
)

// adminConfigCacheKey 组装后完整配置的缓存键
const adminConfigCacheKey = "admin:config:assembled"

// Handler HTTP 处理器
type Handler struct {
	DB     *storage.Manager
	Config *config.Config
}

// NewHandler 创建处理器
func NewHandler(db *storage.Manager, cfg *config.Config) *Handler {
	return &Handler{
		DB:     db,
		Config: cfg,
	}
}

// getAdminConfig 获取完整管理配置，带进程内缓存
// 分离存储未初始化时返回带默认值的初始配置
// 始终返回深拷贝，调用方可就地修改而不影响缓存中的实例
func (h *Handler) getAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	if cached, found := utils.CacheGet(adminConfigCacheKey); found {
		if cfg, ok := cached.(*model.AdminConfig); ok {
			return cloneAdminConfig(cfg), nil
		}
	}

	cfg, err := h.DB.GetAdminConfigFromSeparated(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = h.defaultAdminConfig()
	}

	// 站长账号始终出现在用户列表中
	cfg.UserConfig.Users = ensureOwnerEntry(cfg.UserConfig.Users, h.Config.OwnerUsername)

	ttl := time.Duration(cfg.SiteConfig.SiteInterfaceCacheTime) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	utils.CacheSet(adminConfigCacheKey, cfg, ttl)
	return cloneAdminConfig(cfg), nil
}

// cloneAdminConfig 配置深拷贝
func cloneAdminConfig(cfg *model.AdminConfig) *model.AdminConfig {
	out := *cfg
	out.SourceConfig = append([]model.SourceItem(nil), cfg.SourceConfig...)
	out.CustomCategories = append([]model.CustomCategory(nil), cfg.CustomCategories...)
	out.UserConfig.Users = append([]model.UserEntry(nil), cfg.UserConfig.Users...)
	return &out
}

// invalidateAdminConfig 配置写入后清除缓存
func (h *Handler) invalidateAdminConfig() {
	utils.CacheDelete(adminConfigCacheKey)
}

// defaultAdminConfig 分离存储为空时的初始配置
func (h *Handler) defaultAdminConfig() *model.AdminConfig {
	return &model.AdminConfig{
		SiteConfig: model.SiteConfig{
			SiteName:                h.Config.SiteName,
			SearchDownstreamMaxPage: 5,
			SiteInterfaceCacheTime:  300,
		},
		UserConfig: model.UserConfig{
			AllowRegister: true,
		},
		SourceConfig:     []model.SourceItem{},
		CustomCategories: []model.CustomCategory{},
	}
}

// effectiveRole 计算某用户的有效角色
// 站长由环境变量指定，不依赖存储
func (h *Handler) effectiveRole(ctx context.Context, username string) (string, error) {
	if username == h.Config.OwnerUsername {
		return model.RoleOwner, nil
	}
	role, err := h.DB.GetUserRole(ctx, username)
	if err != nil {
		return "", err
	}
	if role == "" {
		role = model.RoleUser
	}
	return role, nil
}

// ensureOwnerEntry 将站长补进用户列表首位
func ensureOwnerEntry(users []model.UserEntry, owner string) []model.UserEntry {
	for i := range users {
		if users[i].Username == owner {
			users[i].Role = model.RoleOwner
			return users
		}
	}
	return append([]model.UserEntry{{Username: owner, Role: model.RoleOwner}}, users...)
}
