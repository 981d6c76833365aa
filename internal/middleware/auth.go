package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/user/moontv/internal/model"
	"github.com/user/moontv/internal/storage"
	"github.com/user/moontv/internal/utils"
)

// Claims JWT 声明
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAuth 必须登录中间件
// 校验 JWT，失败时回退到 Session；封禁用户直接拒绝
func RequireAuth(jwtSecret string, db *storage.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, role, ok := resolveIdentity(c, jwtSecret)
		if !ok {
			utils.Unauthorized(c, "")
			c.Abort()
			return
		}

		// 封禁状态查不到时拒绝请求，不能降级放行
		banned, err := db.GetUserBanned(c.Request.Context(), username)
		if err != nil {
			utils.ServiceUnavailable(c, "")
			c.Abort()
			return
		}
		if banned {
			utils.Forbidden(c, "账号已被封禁")
			c.Abort()
			return
		}

		// 将用户信息存入上下文
		c.Set("username", username)
		c.Set("role", role)

		c.Next()
	}
}

// RequireAdmin 管理员权限中间件（owner 或 admin）
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists || (role != model.RoleAdmin && role != model.RoleOwner) {
			utils.Forbidden(c, "需要管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireOwner 站长权限中间件（数据导入导出等敏感操作）
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists || role != model.RoleOwner {
			utils.Forbidden(c, "只有站长可以执行该操作")
			c.Abort()
			return
		}
		c.Next()
	}
}

// resolveIdentity 先尝试 JWT，再回退到 Session
func resolveIdentity(c *gin.Context, jwtSecret string) (string, string, bool) {
	if claims, err := extractClaims(c, jwtSecret); err == nil {
		// 滑动续期逻辑：如果 Token 过期时间消耗超过一半，则刷新
		if shouldRefresh(claims) {
			expiry := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
			if newToken, err := GenerateToken(claims.Username, claims.Role, jwtSecret, expiry); err == nil {
				c.SetCookie("token", newToken, int(expiry.Seconds()), "/", "", false, true)
			}
		}
		return claims.Username, claims.Role, true
	}

	session := sessions.Default(c)
	if userinfo := session.Get("userinfo"); userinfo != nil {
		if su, ok := userinfo.(model.UserEntry); ok {
			return su.Username, su.Role, true
		}
	}
	return "", "", false
}

// extractClaims 从 Cookie 或 Header 中提取 JWT Claims
func extractClaims(c *gin.Context, jwtSecret string) (*Claims, error) {
	var tokenString string

	// 优先从 Cookie 获取
	if cookie, err := c.Cookie("token"); err == nil {
		tokenString = cookie
	} else {
		// 从 Authorization Header 获取
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	if tokenString == "" {
		return nil, jwt.ErrTokenMalformed
	}

	// 解析 Token
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

// GetUsername 从上下文获取用户名（未登录返回空串）
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get("username"); exists {
		return username.(string)
	}
	return ""
}

// GetRole 从上下文获取角色（未登录返回空串）
func GetRole(c *gin.Context) string {
	if role, exists := c.Get("role"); exists {
		return role.(string)
	}
	return ""
}

// GenerateToken 生成 JWT Token
func GenerateToken(username, role, jwtSecret string, expiry time.Duration) (string, error) {
	claims := &Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

// shouldRefresh 判断是否需要刷新 Token
// 逻辑：如果已经消耗了总有效期的 50% 以上，则建议刷新
func shouldRefresh(claims *Claims) bool {
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return false
	}

	totalDuration := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	elapsedDuration := time.Since(claims.IssuedAt.Time)

	// 如果消耗超过 50%
	return elapsedDuration > totalDuration/2
}
