package api

import (
	"context"
	"errors"
	"log/slog"

	"taskmanager/internal/model"
	"taskmanager/internal/store"
)

// SeedAdmin 按配置初始化管理员账号。
//
// 未配置邮箱或密码时跳过；账号已存在时保持原样，不修改其角色或密码。
func (s *Server) SeedAdmin(ctx context.Context) error {
	email := s.cfg.Seed.AdminEmail
	plain := s.cfg.Seed.AdminPassword
	if email == "" || plain == "" {
		return nil
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		return err
	}
	if existing != nil {
		if existing.Role != model.RoleAdmin {
			s.logger.Warn("seed admin email belongs to a non-admin account", slog.String("email", email))
		}
		return nil
	}

	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return err
	}
	admin := model.User{
		Email:          email,
		HashedPassword: hash,
		Role:           model.RoleAdmin,
		IsActive:       true,
	}
	if err := s.users.CreateUser(ctx, &admin); err != nil {
		// 多个实例同时启动时可能由另一个实例先创建
		if errors.Is(err, store.ErrEmailTaken) {
			return nil
		}
		return err
	}
	s.logger.Info("admin account seeded", slog.String("email", email))
	return nil
}
