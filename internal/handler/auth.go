package handler

import (
	"errors"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/user/moontv/internal/middleware"
	"github.com/user/moontv/internal/model"
	"github.com/user/moontv/internal/storage"
	"github.com/user/moontv/internal/utils"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 用户注册
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "用户名和密码不能为空")
		return
	}

	ctx := c.Request.Context()

	// 注册开关取自组装后的配置，存储未初始化时默认开放
	adminCfg, err := h.getAdminConfig(ctx)
	if err != nil {
		h.storageError(c, err)
		return
	}
	if !adminCfg.UserConfig.AllowRegister {
		utils.Forbidden(c, "当前未开放注册")
		return
	}

	if req.Username == h.Config.OwnerUsername {
		utils.BadRequest(c, "用户名不可用")
		return
	}

	exists, err := h.DB.CheckUserExist(ctx, req.Username)
	if err != nil {
		h.storageError(c, err)
		return
	}
	if exists {
		utils.BadRequest(c, "用户已存在")
		return
	}

	if err := h.DB.RegisterUser(ctx, req.Username, req.Password); err != nil {
		h.storageError(c, err)
		return
	}

	h.invalidateAdminConfig()
	h.establishSession(c, req.Username, model.RoleUser)
	utils.SuccessWithMessage(c, "注册成功", gin.H{"username": req.Username})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 用户登录
// 站长账号直接比对环境变量，其余用户走存储校验
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "用户名和密码不能为空")
		return
	}

	ctx := c.Request.Context()

	if req.Username == h.Config.OwnerUsername {
		if h.Config.OwnerPassword == "" || req.Password != h.Config.OwnerPassword {
			utils.Unauthorized(c, "用户名或密码错误")
			return
		}
		h.establishSession(c, req.Username, model.RoleOwner)
		utils.SuccessWithMessage(c, "登录成功", gin.H{"username": req.Username, "role": model.RoleOwner})
		return
	}

	ok, err := h.DB.VerifyUser(ctx, req.Username, req.Password)
	if err != nil {
		h.storageError(c, err)
		return
	}
	if !ok {
		utils.Unauthorized(c, "用户名或密码错误")
		return
	}

	banned, err := h.DB.GetUserBanned(ctx, req.Username)
	if err != nil {
		h.storageError(c, err)
		return
	}
	if banned {
		utils.Forbidden(c, "账号已被封禁")
		return
	}

	role, err := h.effectiveRole(ctx, req.Username)
	if err != nil {
		h.storageError(c, err)
		return
	}

	h.establishSession(c, req.Username, role)
	utils.SuccessWithMessage(c, "登录成功", gin.H{"username": req.Username, "role": role})
}

// Logout 退出登录
func (h *Handler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	c.SetCookie("token", "", -1, "/", "", false, true)
	utils.SuccessWithMessage(c, "已退出登录", nil)
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword 修改当前用户密码
func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "新密码不能为空")
		return
	}

	username := middleware.GetUsername(c)
	if username == h.Config.OwnerUsername {
		utils.BadRequest(c, "站长密码由环境变量管理")
		return
	}

	if err := h.DB.ChangePassword(c.Request.Context(), username, req.NewPassword); err != nil {
		h.storageError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "密码已修改", nil)
}

// DeleteAccount 注销当前账号并级联删除全部数据
func (h *Handler) DeleteAccount(c *gin.Context) {
	username := middleware.GetUsername(c)
	if username == h.Config.OwnerUsername {
		utils.BadRequest(c, "站长账号不可注销")
		return
	}

	if err := h.DB.DeleteUser(c.Request.Context(), username); err != nil {
		h.storageError(c, err)
		return
	}

	h.invalidateAdminConfig()
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	c.SetCookie("token", "", -1, "/", "", false, true)
	utils.SuccessWithMessage(c, "账号已注销", nil)
}

// establishSession 写入 Session 并下发 JWT Cookie
func (h *Handler) establishSession(c *gin.Context, username, role string) {
	session := sessions.Default(c)
	session.Set("userinfo", model.UserEntry{Username: username, Role: role})
	_ = session.Save()

	token, err := middleware.GenerateToken(username, role, h.Config.AppSecret, h.Config.JWTExpiry)
	if err == nil {
		c.SetCookie("token", token, int(h.Config.JWTExpiry.Seconds()), "/", "", false, true)
	}
}

// storageError 存储层错误统一出口
func (h *Handler) storageError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrStorageUnavailable) {
		utils.ServiceUnavailable(c, "")
		return
	}
	utils.InternalServerError(c, err.Error())
}
