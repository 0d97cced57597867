package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher 使用 bcrypt 计算和校验加盐密码哈希。
type Hasher struct {
	cost int
}

// NewHasher 创建 Hasher。cost 低于 bcrypt.MinCost 时使用 bcrypt.DefaultCost，高于 MaxCost 时截断。
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Cost 返回实际使用的 cost。
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash 返回明文密码的 bcrypt 哈希。
func (h *Hasher) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify 校验明文与哈希是否匹配。哈希格式错误时返回 false。
func (h *Hasher) Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
