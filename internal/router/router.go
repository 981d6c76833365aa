package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/moontv/internal/handler"
	"github.com/user/moontv/internal/middleware"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ==================== 认证 ====================
	r.POST("/api/register", h.Register)
	r.POST("/api/login", h.Login)
	r.POST("/api/logout", h.Logout)

	// ==================== 用户数据（需要登录）====================
	api := r.Group("/api")
	api.Use(middleware.RequireAuth(h.Config.AppSecret, h.DB))
	{
		api.POST("/change_password", h.ChangePassword)
		api.POST("/delete_user", h.DeleteAccount)

		api.GET("/playrecords", h.GetPlayRecords)
		api.POST("/playrecords", h.SavePlayRecord)
		api.DELETE("/playrecords", h.DeletePlayRecord)

		api.GET("/favorites", h.GetFavorites)
		api.POST("/favorites", h.SaveFavorite)
		api.DELETE("/favorites", h.DeleteFavorite)

		api.GET("/skipconfigs", h.GetSkipConfigs)
		api.POST("/skipconfigs", h.SaveSkipConfig)
		api.DELETE("/skipconfigs", h.DeleteSkipConfig)

		api.GET("/searchhistory", h.GetSearchHistory)
		api.POST("/searchhistory", h.AddSearchHistory)
		api.DELETE("/searchhistory", h.DeleteSearchHistory)
	}

	// ==================== 管理后台 ====================
	admin := r.Group("/api/admin")
	admin.Use(middleware.RequireAuth(h.Config.AppSecret, h.DB))
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/config", h.GetAdminConfig)
		admin.POST("/config", h.SaveAdminConfig)
		admin.GET("/config_file", h.GetConfigFile)
		admin.POST("/user", h.AdminUserAction)

		// 以下操作仅限站长
		owner := admin.Group("")
		owner.Use(middleware.RequireOwner())
		{
			owner.POST("/migrate", h.TriggerMigration)
			owner.POST("/config_file", h.SaveConfigFile)
			owner.GET("/data_migration/export", h.ExportData)
			owner.POST("/data_migration/import", h.ImportData)
		}
	}
}
