package storage

import (
	"context"
	"errors"
	"log"

	"github.com/user/moontv/internal/model"
)

// MigrateFromLegacy 将旧版 admin:config 整体 blob 迁移到分离存储
// 幂等：没有旧数据或任一新版字段已存在时返回 false 且不写入
// 中途失败可安全重跑，所有写入均为幂等覆盖
func MigrateFromLegacy(ctx context.Context, s Storage) (bool, error) {
	legacy, err := s.GetAdminConfig(ctx)
	if err != nil {
		return false, err
	}
	if legacy == nil {
		return false, nil // 没有旧数据需要迁移
	}

	// 已迁移检查覆盖全部新版字段，避免部分迁移后误判完成
	migrated, err := separatedFieldsPresent(ctx, s)
	if err != nil {
		return false, err
	}
	if migrated {
		return false, nil
	}

	log.Println("[Migration] 开始从旧版 admin:config 迁移...")

	if err := s.SetSiteConfig(ctx, &legacy.SiteConfig); err != nil {
		return false, err
	}
	log.Println("[Migration] 站点配置已迁移")

	if err := s.SetSourceConfig(ctx, legacy.SourceConfig); err != nil {
		return false, err
	}
	log.Println("[Migration] 视频源配置已迁移")

	if err := s.SetCustomCategories(ctx, legacy.CustomCategories); err != nil {
		return false, err
	}
	log.Println("[Migration] 自定义分类已迁移")

	if err := s.SetAllowRegister(ctx, legacy.UserConfig.AllowRegister); err != nil {
		return false, err
	}

	// 角色仅在非默认时落盘，封禁仅在为真时落盘
	for _, user := range legacy.UserConfig.Users {
		if user.Role != "" && user.Role != model.RoleUser {
			if err := s.SetUserRole(ctx, user.Username, user.Role); err != nil {
				return false, err
			}
		}
		if user.Banned {
			if err := s.SetUserBanned(ctx, user.Username, true); err != nil {
				return false, err
			}
		}
	}
	log.Println("[Migration] 用户角色已迁移")

	if err := s.DeleteAdminConfig(ctx); err != nil {
		return false, err
	}
	log.Println("[Migration] 旧版 admin:config 已删除，迁移完成")

	return true, nil
}

// separatedFieldsPresent 新版任一字段已存在即视为已迁移
func separatedFieldsPresent(ctx context.Context, s Storage) (bool, error) {
	siteConfig, err := s.GetSiteConfig(ctx)
	if err != nil {
		return false, err
	}
	if siteConfig != nil {
		return true, nil
	}
	sources, err := s.GetSourceConfig(ctx)
	if err != nil {
		return false, err
	}
	if sources != nil {
		return true, nil
	}
	categories, err := s.GetCustomCategories(ctx)
	if err != nil {
		return false, err
	}
	return categories != nil, nil
}

// GetAdminConfigFromSeparated 从分离字段组装完整配置
// 站点配置不存在视为未初始化，返回 nil
func GetAdminConfigFromSeparated(ctx context.Context, s Storage) (*model.AdminConfig, error) {
	siteConfig, err := s.GetSiteConfig(ctx)
	if err != nil {
		return nil, err
	}
	if siteConfig == nil {
		return nil, nil
	}

	sources, err := s.GetSourceConfig(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := s.GetCustomCategories(ctx)
	if err != nil {
		return nil, err
	}
	allowRegister, err := s.GetAllowRegister(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.GetAllUsersWithRoles(ctx)
	if err != nil {
		return nil, err
	}

	if sources == nil {
		sources = []model.SourceItem{}
	}
	if categories == nil {
		categories = []model.CustomCategory{}
	}
	return &model.AdminConfig{
		SiteConfig: *siteConfig,
		UserConfig: model.UserConfig{
			AllowRegister: allowRegister,
			Users:         users,
		},
		SourceConfig:     sources,
		CustomCategories: categories,
	}, nil
}

// SetAdminConfigSeparated 将完整配置拆分写入分离字段
// 普通用户角色不落盘，已有角色记录会被删除
func SetAdminConfigSeparated(ctx context.Context, s Storage, cfg *model.AdminConfig) error {
	if err := s.SetSiteConfig(ctx, &cfg.SiteConfig); err != nil {
		return err
	}
	if err := s.SetSourceConfig(ctx, cfg.SourceConfig); err != nil {
		return err
	}
	if err := s.SetCustomCategories(ctx, cfg.CustomCategories); err != nil {
		return err
	}
	if err := s.SetAllowRegister(ctx, cfg.UserConfig.AllowRegister); err != nil {
		return err
	}
	for _, user := range cfg.UserConfig.Users {
		if user.Role != "" && user.Role != model.RoleUser {
			if err := s.SetUserRole(ctx, user.Username, user.Role); err != nil {
				return err
			}
		} else {
			if err := s.DeleteUserRole(ctx, user.Username); err != nil {
				return err
			}
		}
		if err := s.SetUserBanned(ctx, user.Username, user.Banned); err != nil {
			return err
		}
	}
	return nil
}

// collectUsersWithRoles 逐个用户读取角色与封禁状态，缺省角色回填 user
func collectUsersWithRoles(ctx context.Context, s Storage) ([]model.UserEntry, error) {
	users, err := s.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]model.UserEntry, 0, len(users))
	for _, name := range users {
		role, err := s.GetUserRole(ctx, name)
		if err != nil {
			return nil, err
		}
		if role == "" {
			role = model.RoleUser
		}
		banned, err := s.GetUserBanned(ctx, name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.UserEntry{Username: name, Role: role, Banned: banned})
	}
	return entries, nil
}

// isCorrupt 判断是否为记录损坏错误
func isCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptRecord)
}
