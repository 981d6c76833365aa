package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/moontv/internal/middleware"
	"github.com/user/moontv/internal/model"
	"github.com/user/moontv/internal/utils"
)

// ==================== 管理后台 ====================

// GetAdminConfig 获取完整管理配置（带缓存）
func (h *Handler) GetAdminConfig(c *gin.Context) {
	cfg, err := h.getAdminConfig(c.Request.Context())
	if err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, gin.H{
		"Role":   middleware.GetRole(c),
		"Config": cfg,
	})
}

// SaveAdminConfig 保存管理配置并写入分离式存储
func (h *Handler) SaveAdminConfig(c *gin.Context) {
	var cfg model.AdminConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		utils.BadRequest(c, "配置格式错误")
		return
	}

	// 站长条目由环境变量决定，不允许通过配置覆盖
	cfg.UserConfig.Users = ensureOwnerEntry(cfg.UserConfig.Users, h.Config.OwnerUsername)

	if err := h.DB.SetAdminConfigSeparated(c.Request.Context(), &cfg); err != nil {
		h.storageError(c, err)
		return
	}
	h.invalidateAdminConfig()
	utils.SuccessWithMessage(c, "配置已保存", nil)
}

// TriggerMigration 手动触发旧版配置迁移
func (h *Handler) TriggerMigration(c *gin.Context) {
	migrated, err := h.DB.MigrateFromLegacy(c.Request.Context())
	if err != nil {
		h.storageError(c, err)
		return
	}
	if migrated {
		h.invalidateAdminConfig()
	}
	utils.Success(c, gin.H{"migrated": migrated})
}

// GetConfigFile 获取订阅配置文件内容
func (h *Handler) GetConfigFile(c *gin.Context) {
	cfg, err := h.getAdminConfig(c.Request.Context())
	if err != nil {
		h.storageError(c, err)
		return
	}
	configFile := cfg.SiteConfig.ConfigFile
	if configFile == "" {
		configFile = "{}"
	}
	utils.Success(c, gin.H{"configFile": configFile})
}

type saveConfigFileRequest struct {
	ConfigFile string `json:"configFile" binding:"required"`
}

// SaveConfigFile 保存订阅配置文件（必须是合法 JSON）
func (h *Handler) SaveConfigFile(c *gin.Context) {
	var req saveConfigFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "配置文件内容必须是字符串")
		return
	}
	if !json.Valid([]byte(req.ConfigFile)) {
		utils.BadRequest(c, "JSON 格式错误")
		return
	}

	ctx := c.Request.Context()
	cfg, err := h.getAdminConfig(ctx)
	if err != nil {
		h.storageError(c, err)
		return
	}
	cfg.SiteConfig.ConfigFile = req.ConfigFile
	if err := h.DB.SetAdminConfigSeparated(ctx, cfg); err != nil {
		h.storageError(c, err)
		return
	}
	h.invalidateAdminConfig()
	utils.Success(c, nil)
}

// exportEnvelope 导出数据信封，不含用户数据
type exportEnvelope struct {
	Version    string     `json:"version"`
	ExportTime string     `json:"exportTime"`
	Data       exportData `json:"data"`
}

type exportData struct {
	SiteConfig       exportSiteConfig       `json:"SiteConfig"`
	SourceConfig     []model.SourceItem     `json:"SourceConfig"`
	CustomCategories []model.CustomCategory `json:"CustomCategories"`
	ConfigFile       string                 `json:"ConfigFile"`
}

type exportSiteConfig struct {
	SiteName                string `json:"SiteName"`
	Announcement            string `json:"Announcement"`
	SearchDownstreamMaxPage int    `json:"SearchDownstreamMaxPage"`
	SiteInterfaceCacheTime  int    `json:"SiteInterfaceCacheTime"`
	DisableYellowFilter     bool   `json:"DisableYellowFilter"`
}

// ExportData 导出站点配置（仅站长）
func (h *Handler) ExportData(c *gin.Context) {
	cfg, err := h.getAdminConfig(c.Request.Context())
	if err != nil {
		h.storageError(c, err)
		return
	}

	envelope := exportEnvelope{
		Version:    "1.0",
		ExportTime: time.Now().Format(time.RFC3339),
		Data: exportData{
			SiteConfig: exportSiteConfig{
				SiteName:                cfg.SiteConfig.SiteName,
				Announcement:            cfg.SiteConfig.Announcement,
				SearchDownstreamMaxPage: cfg.SiteConfig.SearchDownstreamMaxPage,
				SiteInterfaceCacheTime:  cfg.SiteConfig.SiteInterfaceCacheTime,
				DisableYellowFilter:     cfg.SiteConfig.DisableYellowFilter,
			},
			SourceConfig:     cfg.SourceConfig,
			CustomCategories: cfg.CustomCategories,
			ConfigFile:       cfg.SiteConfig.ConfigFile,
		},
	}
	utils.Success(c, envelope)
}

type importRequest struct {
	Version string         `json:"version"`
	Data    *importPayload `json:"data"`
}

type importPayload struct {
	SiteConfig       *importSiteConfig      `json:"SiteConfig"`
	SourceConfig     []model.SourceItem     `json:"SourceConfig"`
	CustomCategories []model.CustomCategory `json:"CustomCategories"`
	ConfigFile       string                 `json:"ConfigFile"`
}

type importSiteConfig struct {
	SearchDownstreamMaxPage *int  `json:"SearchDownstreamMaxPage"`
	SiteInterfaceCacheTime  *int  `json:"SiteInterfaceCacheTime"`
	DisableYellowFilter     *bool `json:"DisableYellowFilter"`
}

// ImportData 导入站点配置（仅站长）
// 源按 key 合并，分类按 query+type 合并，已存在的不覆盖；ConfigFile 整体替换
func (h *Handler) ImportData(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Version == "" || req.Data == nil {
		utils.BadRequest(c, "无效的导入数据格式")
		return
	}

	ctx := c.Request.Context()
	cfg, err := h.getAdminConfig(ctx)
	if err != nil {
		h.storageError(c, err)
		return
	}

	if sc := req.Data.SiteConfig; sc != nil {
		if sc.SearchDownstreamMaxPage != nil {
			cfg.SiteConfig.SearchDownstreamMaxPage = *sc.SearchDownstreamMaxPage
		}
		if sc.SiteInterfaceCacheTime != nil {
			cfg.SiteConfig.SiteInterfaceCacheTime = *sc.SiteInterfaceCacheTime
		}
		if sc.DisableYellowFilter != nil {
			cfg.SiteConfig.DisableYellowFilter = *sc.DisableYellowFilter
		}
	}

	existingSources := make(map[string]bool, len(cfg.SourceConfig))
	for _, s := range cfg.SourceConfig {
		existingSources[s.Key] = true
	}
	for _, s := range req.Data.SourceConfig {
		if existingSources[s.Key] {
			continue
		}
		if s.From == "" {
			s.From = "custom"
		}
		cfg.SourceConfig = append(cfg.SourceConfig, s)
		existingSources[s.Key] = true
	}

	existingCategories := make(map[string]bool, len(cfg.CustomCategories))
	for _, cat := range cfg.CustomCategories {
		existingCategories[cat.Query+":"+cat.Type] = true
	}
	for _, cat := range req.Data.CustomCategories {
		key := cat.Query + ":" + cat.Type
		if existingCategories[key] {
			continue
		}
		if cat.From == "" {
			cat.From = "custom"
		}
		cfg.CustomCategories = append(cfg.CustomCategories, cat)
		existingCategories[key] = true
	}

	if req.Data.ConfigFile != "" {
		cfg.SiteConfig.ConfigFile = req.Data.ConfigFile
	}

	if err := h.DB.SetAdminConfigSeparated(ctx, cfg); err != nil {
		h.storageError(c, err)
		return
	}
	h.invalidateAdminConfig()
	utils.SuccessWithMessage(c, "导入成功", nil)
}

type adminUserRequest struct {
	TargetUsername string `json:"targetUsername" binding:"required"`
	Action         string `json:"action" binding:"required"`
	TargetRole     string `json:"targetRole"`
}

// AdminUserAction 用户管理操作：setRole / ban / unban / deleteUser
func (h *Handler) AdminUserAction(c *gin.Context) {
	var req adminUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "缺少 targetUsername 或 action")
		return
	}

	ctx := c.Request.Context()
	operator := middleware.GetUsername(c)
	operatorRole := middleware.GetRole(c)

	if req.TargetUsername == h.Config.OwnerUsername {
		utils.Forbidden(c, "站长账号不可被操作")
		return
	}
	if req.TargetUsername == operator {
		utils.BadRequest(c, "不能操作自己的账号")
		return
	}

	targetRole, err := h.effectiveRole(ctx, req.TargetUsername)
	if err != nil {
		h.storageError(c, err)
		return
	}

	// 管理员只能操作普通用户，管理员角色的授予和回收仅限站长
	if operatorRole != model.RoleOwner {
		if targetRole == model.RoleAdmin {
			utils.Forbidden(c, "无权操作其他管理员")
			return
		}
		if req.Action == "setRole" && req.TargetRole == model.RoleAdmin {
			utils.Forbidden(c, "仅站长可设置管理员")
			return
		}
	}

	exists, err := h.DB.CheckUserExist(ctx, req.TargetUsername)
	if err != nil {
		h.storageError(c, err)
		return
	}
	if !exists {
		utils.BadRequest(c, "用户不存在")
		return
	}

	switch req.Action {
	case "setRole":
		switch req.TargetRole {
		case model.RoleAdmin:
			err = h.DB.SetUserRole(ctx, req.TargetUsername, model.RoleAdmin)
		case model.RoleUser:
			// 普通用户为默认角色，直接删除角色键
			err = h.DB.DeleteUserRole(ctx, req.TargetUsername)
		default:
			utils.BadRequest(c, "不支持的角色")
			return
		}
	case "ban":
		err = h.DB.SetUserBanned(ctx, req.TargetUsername, true)
	case "unban":
		err = h.DB.SetUserBanned(ctx, req.TargetUsername, false)
	case "deleteUser":
		err = h.DB.DeleteUser(ctx, req.TargetUsername)
	default:
		utils.BadRequest(c, "不支持的操作")
		return
	}
	if err != nil {
		h.storageError(c, err)
		return
	}

	h.invalidateAdminConfig()
	utils.Success(c, nil)
}
