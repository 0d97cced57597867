package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/token"
	"taskmanager/internal/store"

	"github.com/gin-gonic/gin"
)

const currentUserKey = "currentUser"

// TokenValidator 校验 bearer token。
type TokenValidator interface {
	Validate(tokenStr string) (token.Identity, error)
}

// UserLookup 按 ID 查找用户。
type UserLookup interface {
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
}

// Authenticate 校验 JWT，加载对应用户并写入上下文。
//
// token 合法但用户已不存在时同样返回 401。用户的 IsActive 不在此处检查。
func Authenticate(tokens TokenValidator, users UserLookup, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if authHeader == "" || len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			metrics.AuthFailuresTotal.WithLabelValues("missing_token").Inc()
			abortUnauthorized(c, "Not authenticated")
			return
		}

		identity, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			metrics.AuthFailuresTotal.WithLabelValues("invalid_token").Inc()
			if logger != nil {
				logger.Debug("token rejected", slog.String("error", err.Error()))
			}
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), identity.UserID)
		if errors.Is(err, store.ErrUserNotFound) {
			metrics.AuthFailuresTotal.WithLabelValues("user_not_found").Inc()
			abortUnauthorized(c, "User not found")
			return
		}
		if err != nil {
			if logger != nil {
				logger.Error("load current user failed", slog.Uint64("user_id", uint64(identity.UserID)), slog.String("error", err.Error()))
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}

		SetCurrentUser(c, user)
		c.Next()
	}
}

// RequireRole 要求当前用户具有指定角色，否则返回 403。
//
// 必须挂在 Authenticate 之后。
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abortUnauthorized(c, "Not authenticated")
			return
		}
		if user.Role != role {
			metrics.AuthFailuresTotal.WithLabelValues("forbidden").Inc()
			detail := "Insufficient permissions"
			if role == model.RoleAdmin {
				detail = "Admins only"
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": detail})
			return
		}
		c.Next()
	}
}

// CurrentUser 返回 Authenticate 写入的用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok && user != nil
}

// SetCurrentUser 把用户写入上下文，供测试和内部路由使用。
func SetCurrentUser(c *gin.Context, user *model.User) {
	c.Set(currentUserKey, user)
}

func abortUnauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detail})
}
