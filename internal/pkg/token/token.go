package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"taskmanager/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 覆盖签名错误、负载格式错误、subject 非整数以及过期等情况。
var ErrInvalidToken = errors.New("invalid token")

// DefaultAlgorithm 是未配置算法时使用的签名算法。
const DefaultAlgorithm = "HS256"

type customClaims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
}

// Identity 是 token 中携带的身份信息。
type Identity struct {
	UserID uint
	Role   model.Role
}

// Service 签发并校验 JWT。
type Service struct {
	secret   []byte
	method   jwt.SigningMethod
	lifetime time.Duration
	now      func() time.Time
}

// Option 调整 Service 行为。
type Option func(*Service)

// WithClock 替换时钟，测试使用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService 创建 Token Service。
//
// 只接受 HMAC 系列算法（HS256 / HS384 / HS512），其余返回错误。
func NewService(secret, algorithm string, expireMinutes int, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", algorithm)
	}
	if expireMinutes <= 0 {
		return nil, fmt.Errorf("invalid token lifetime %d minutes", expireMinutes)
	}
	s := &Service{
		secret:   []byte(secret),
		method:   method,
		lifetime: time.Duration(expireMinutes) * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lifetime 返回 token 有效期。
func (s *Service) Lifetime() time.Duration {
	return s.lifetime
}

// Issue 为用户签发 token，过期时间为签发时间加上配置的分钟数（UTC）。
func (s *Service) Issue(userID uint, role model.Role) (string, error) {
	now := s.now().UTC()
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate 校验 token 并返回其中的身份。
//
// 过期判断使用 token 自带的 exp，在调用时惰性完成。
func (s *Service) Validate(tokenStr string) (Identity, error) {
	claims := &customClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return Identity{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}
	return Identity{UserID: uint(uid), Role: claims.Role}, nil
}
