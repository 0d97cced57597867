package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRole 表示角色不在 {user, admin} 之内。
var ErrInvalidRole = errors.New("invalid role")

// Role 是封闭的角色枚举。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole 解析角色字符串，未知值返回 ErrInvalidRole。
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// UnmarshalJSON 在反序列化边界拒绝未知角色。
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRole, string(data))
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value 实现 driver.Valuer。
func (r Role) Value() (driver.Value, error) {
	if r == "" {
		return string(RoleUser), nil
	}
	if _, err := ParseRole(string(r)); err != nil {
		return nil, err
	}
	return string(r), nil
}

// Scan 实现 sql.Scanner，数据库中的未知角色同样视为错误。
func (r *Role) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		*r = RoleUser
		return nil
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidRole, src)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User 表示系统用户。
//
// 注意：IsActive 目前不参与鉴权，停用用户的 token 依然有效。
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`                                // 用户 ID
	Email          string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"` // 邮箱（唯一，区分大小写）
	HashedPassword string    `gorm:"not null" json:"-"`                                   // bcrypt 哈希
	Role           Role      `gorm:"type:varchar(16);not null;default:user" json:"role"`  // 角色: user / admin
	IsActive       bool      `gorm:"not null;default:true" json:"is_active"`              // 是否启用
	CreatedAt      time.Time `json:"created_at"`                                          // 创建时间 (UTC)

	Tasks []Task `gorm:"foreignKey:OwnerID" json:"-"`
}
