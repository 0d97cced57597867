package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"

	"github.com/gin-gonic/gin"
)

// UserStore 是 Handler 依赖的凭证存储。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// PasswordHasher 计算与校验密码哈希。
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// TokenIssuer 签发访问令牌。
type TokenIssuer interface {
	Issue(userID uint, role model.Role) (string, error)
}

// Handler 提供注册与登录接口。
type Handler struct {
	users  UserStore
	hasher PasswordHasher
	tokens TokenIssuer
	logger *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, hasher PasswordHasher, tokens TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}
}

// maxPasswordBytes 是 bcrypt 可接受的最大密码长度。
const maxPasswordBytes = 72

type registerRequest struct {
	Email    string      `json:"email" binding:"required,email"`
	Password string      `json:"password" binding:"required"`
	Role     *model.Role `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// UserResponse 是对外暴露的用户信息，不包含密码哈希。
type UserResponse struct {
	ID        uint       `json:"id"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewUserResponse 把 model.User 转换为响应结构。
func NewUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// Register 创建新用户。
//
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	// bcrypt 的 72 限制按字节计算，validator 的 max 按字符计算
	if len(req.Password) > maxPasswordBytes {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "password must be at most 72 bytes"})
		return
	}

	role := model.RoleUser
	if req.Role != nil {
		role = *req.Role
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.logger.Error("hash password failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "hash password failed"})
		return
	}

	user := model.User{
		Email:          req.Email,
		HashedPassword: hash,
		Role:           role,
		IsActive:       true,
	}
	if err := h.users.CreateUser(c.Request.Context(), &user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
			return
		}
		h.logger.Error("create user failed", slog.String("email", req.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "create user failed"})
		return
	}

	h.logger.Info("user registered", slog.String("email", user.Email), slog.String("role", string(user.Role)))
	c.JSON(http.StatusCreated, NewUserResponse(&user))
}

// Login 校验用户并返回 JWT。
//
// 未知邮箱与错误密码返回同样的 401，避免枚举账号。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	user, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		h.logger.Error("query user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "query user failed"})
		return
	}
	if user == nil || !h.hasher.Verify(req.Password, user.HashedPassword) {
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		h.logger.Warn("failed login attempt", slog.String("email", req.Email))
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid credentials"})
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "sign token failed"})
		return
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	h.logger.Info("user logged in", slog.String("email", user.Email), slog.String("role", string(user.Role)))
	c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}
