package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/moontv/internal/middleware"
	"github.com/user/moontv/internal/model"
	"github.com/user/moontv/internal/utils"
)

// splitCompositeKey 拆分 source+id 组合键
func splitCompositeKey(key string) (source, id string, ok bool) {
	source, id, ok = strings.Cut(key, "+")
	if !ok || source == "" || id == "" {
		return "", "", false
	}
	return source, id, true
}

// GetPlayRecords 获取当前用户全部播放记录
// 返回 map，键为 source+id 组合键
func (h *Handler) GetPlayRecords(c *gin.Context) {
	username := middleware.GetUsername(c)
	records, err := h.DB.GetAllPlayRecords(c.Request.Context(), username)
	if err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, records)
}

type savePlayRecordRequest struct {
	Key    string            `json:"key" binding:"required"`
	Record *model.PlayRecord `json:"record" binding:"required"`
}

// SavePlayRecord 保存单条播放记录
func (h *Handler) SavePlayRecord(c *gin.Context) {
	var req savePlayRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "缺少 key 或 record")
		return
	}
	source, id, ok := splitCompositeKey(req.Key)
	if !ok {
		utils.BadRequest(c, "key 格式应为 source+id")
		return
	}

	username := middleware.GetUsername(c)
	if err := h.DB.SavePlayRecord(c.Request.Context(), username, source, id, req.Record); err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, nil)
}

// DeletePlayRecord 删除单条播放记录，无 key 参数时清空全部
func (h *Handler) DeletePlayRecord(c *gin.Context) {
	username := middleware.GetUsername(c)
	ctx := c.Request.Context()

	key := c.Query("key")
	if key == "" {
		records, err := h.DB.GetAllPlayRecords(ctx, username)
		if err != nil {
			h.storageError(c, err)
			return
		}
		for k := range records {
			source, id, ok := splitCompositeKey(k)
			if !ok {
				continue
			}
			if err := h.DB.DeletePlayRecord(ctx, username, source, id); err != nil {
				h.storageError(c, err)
				return
			}
		}
		utils.Success(c, nil)
		return
	}

	source, id, ok := splitCompositeKey(key)
	if !ok {
		utils.BadRequest(c, "key 格式应为 source+id")
		return
	}
	if err := h.DB.DeletePlayRecord(ctx, username, source, id); err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, nil)
}

// GetFavorites 获取收藏。带 key 参数时返回单条（不存在返回 null）
func (h *Handler) GetFavorites(c *gin.Context) {
	username := middleware.GetUsername(c)
	ctx := c.Request.Context()

	if key := c.Query("key"); key != "" {
		source, id, ok := splitCompositeKey(key)
		if !ok {
			utils.BadRequest(c, "key 格式应为 source+id")
			return
		}
		fav, err := h.DB.GetFavorite(ctx, username, source, id)
		if err != nil {
			h.storageError(c, err)
			return
		}
		utils.Success(c, fav)
		return
	}

	favorites, err := h.DB.GetAllFavorites(ctx, username)
	if err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, favorites)
}

type saveFavoriteRequest struct {
	Key      string          `json:"key" binding:"required"`
	Favorite *model.Favorite `json:"favorite" binding:"required"`
}

// SaveFavorite 保存收藏
func (h *Handler) SaveFavorite(c *gin.Context) {
	var req saveFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "缺少 key 或 favorite")
		return
	}
	source, id, ok := splitCompositeKey(req.Key)
	if !ok {
		utils.BadRequest(c, "key 格式应为 source+id")
		return
	}

	username := middleware.GetUsername(c)
	if err := h.DB.SaveFavorite(c.Request.Context(), username, source, id, req.Favorite); err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, nil)
}

// DeleteFavorite 删除收藏，无 key 参数时清空全部
func (h *Handler) DeleteFavorite(c *gin.Context) {
	username := middleware.GetUsername(c)
	ctx := c.Request.Context()

	key := c.Query("key")
	if key == "" {
		favorites, err := h.DB.GetAllFavorites(ctx, username)
		if err != nil {
			h.storageError(c, err)
			return
		}
		for k := range favorites {
			source, id, ok := splitCompositeKey(k)
			if !ok {
				continue
			}
			if err := h.DB.DeleteFavorite(ctx, username, source, id); err != nil {
				h.storageError(c, err)
				return
			}
		}
		utils.Success(c, nil)
		return
	}

	source, id, ok := splitCompositeKey(key)
	if !ok {
		utils.BadRequest(c, "key 格式应为 source+id")
		return
	}
	if err := h.DB.DeleteFavorite(ctx, username, source, id); err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, nil)
}

// GetSkipConfigs 获取当前用户全部跳过片头片尾配置
func (h *Handler) GetSkipConfigs(c *gin.Context) {
	username := middleware.GetUsername(c)
	configs, err := h.DB.GetAllSkipConfigs(c.Request.Context(), username)
	if err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, configs)
}

type saveSkipConfigRequest struct {
	Key    string            `json:"key" binding:"required"`
	Config *model.SkipConfig `json:"config" binding:"required"`
}

// SaveSkipConfig 保存跳过配置
func (h *Handler) SaveSkipConfig(c *gin.Context) {
	var req saveSkipConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "缺少 key 或 config")
		return
	}
	source, id, ok := splitCompositeKey(req.Key)
	if !ok {
		utils.BadRequest(c, "key 格式应为 source+id")
		return
	}

	username := middleware.GetUsername(c)
	if err := h.DB.SetSkipConfig(c.Request.Context(), username, source, id, req.Config); err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, nil)
}

// DeleteSkipConfig 删除跳过配置
func (h *Handler) DeleteSkipConfig(c *gin.Context) {
	key := c.Query("key")
	source, id, ok := splitCompositeKey(key)
	if !ok {
		utils.BadRequest(c, "key 格式应为 source+id")
		return
	}

	username := middleware.GetUsername(c)
	if err := h.DB.DeleteSkipConfig(c.Request.Context(), username, source, id); err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, nil)
}

// GetSearchHistory 获取搜索历史（最新在前，最多20条）
func (h *Handler) GetSearchHistory(c *gin.Context) {
	username := middleware.GetUsername(c)
	history, err := h.DB.GetSearchHistory(c.Request.Context(), username)
	if err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, history)
}

type addSearchHistoryRequest struct {
	Keyword string `json:"keyword" binding:"required"`
}

// AddSearchHistory 追加搜索历史
func (h *Handler) AddSearchHistory(c *gin.Context) {
	var req addSearchHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "缺少 keyword")
		return
	}

	username := middleware.GetUsername(c)
	if err := h.DB.AddSearchHistory(c.Request.Context(), username, req.Keyword); err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, nil)
}

// DeleteSearchHistory 删除搜索历史，无 keyword 参数时清空
func (h *Handler) DeleteSearchHistory(c *gin.Context) {
	username := middleware.GetUsername(c)
	if err := h.DB.DeleteSearchHistory(c.Request.Context(), username, c.Query("keyword")); err != nil {
		h.storageError(c, err)
		return
	}
	utils.Success(c, nil)
}
