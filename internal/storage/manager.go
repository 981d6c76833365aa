package storage

import (
	"context"
	"errors"
	"log"

	"github.com/user/moontv/internal/model"
)

// Manager 类型化的存储门面，页面接口统一经由它访问后端
// 仅负责组合键拼装、IsFavorited 推导与不支持操作的降级
type Manager struct {
	storage Storage
}

// NewManager 创建存储门面
func NewManager(s Storage) *Manager {
	return &Manager{storage: s}
}

// Storage 返回底层后端，供迁移例程等直接使用
func (m *Manager) Storage() Storage {
	return m.storage
}

// ---------- 播放记录 ----------

func (m *Manager) GetPlayRecord(ctx context.Context, userName, source, id string) (*model.PlayRecord, error) {
	record, err := m.storage.GetPlayRecord(ctx, userName, GenerateStorageKey(source, id))
	return record, m.absorbCorrupt(err, "播放记录")
}

func (m *Manager) SavePlayRecord(ctx context.Context, userName, source, id string, record *model.PlayRecord) error {
	return m.storage.SetPlayRecord(ctx, userName, GenerateStorageKey(source, id), record)
}

func (m *Manager) GetAllPlayRecords(ctx context.Context, userName string) (map[string]*model.PlayRecord, error) {
	records, err := m.storage.GetAllPlayRecords(ctx, userName)
	if errors.Is(err, ErrNotSupported) {
		return map[string]*model.PlayRecord{}, nil
	}
	return records, err
}

func (m *Manager) DeletePlayRecord(ctx context.Context, userName, source, id string) error {
	return m.storage.DeletePlayRecord(ctx, userName, GenerateStorageKey(source, id))
}

// ---------- 收藏 ----------

func (m *Manager) GetFavorite(ctx context.Context, userName, source, id string) (*model.Favorite, error) {
	favorite, err := m.storage.GetFavorite(ctx, userName, GenerateStorageKey(source, id))
	return favorite, m.absorbCorrupt(err, "收藏")
}

func (m *Manager) SaveFavorite(ctx context.Context, userName, source, id string, favorite *model.Favorite) error {
	return m.storage.SetFavorite(ctx, userName, GenerateStorageKey(source, id), favorite)
}

func (m *Manager) GetAllFavorites(ctx context.Context, userName string) (map[string]*model.Favorite, error) {
	favorites, err := m.storage.GetAllFavorites(ctx, userName)
	if errors.Is(err, ErrNotSupported) {
		return map[string]*model.Favorite{}, nil
	}
	return favorites, err
}

func (m *Manager) DeleteFavorite(ctx context.Context, userName, source, id string) error {
	return m.storage.DeleteFavorite(ctx, userName, GenerateStorageKey(source, id))
}

// IsFavorited 是否已收藏
func (m *Manager) IsFavorited(ctx context.Context, userName, source, id string) (bool, error) {
	favorite, err := m.GetFavorite(ctx, userName, source, id)
	if err != nil {
		return false, err
	}
	return favorite != nil, nil
}

// ---------- 跳过片头片尾配置 ----------

func (m *Manager) GetSkipConfig(ctx context.Context, userName, source, id string) (*model.SkipConfig, error) {
	cfg, err := m.storage.GetSkipConfig(ctx, userName, GenerateStorageKey(source, id))
	if errors.Is(err, ErrNotSupported) {
		return nil, nil
	}
	return cfg, m.absorbCorrupt(err, "跳过配置")
}

func (m *Manager) SetSkipConfig(ctx context.Context, userName, source, id string, cfg *model.SkipConfig) error {
	err := m.storage.SetSkipConfig(ctx, userName, GenerateStorageKey(source, id), cfg)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) DeleteSkipConfig(ctx context.Context, userName, source, id string) error {
	err := m.storage.DeleteSkipConfig(ctx, userName, GenerateStorageKey(source, id))
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) GetAllSkipConfigs(ctx context.Context, userName string) (map[string]*model.SkipConfig, error) {
	configs, err := m.storage.GetAllSkipConfigs(ctx, userName)
	if errors.Is(err, ErrNotSupported) {
		return map[string]*model.SkipConfig{}, nil
	}
	return configs, err
}

// ---------- 搜索历史 ----------

func (m *Manager) GetSearchHistory(ctx context.Context, userName string) ([]string, error) {
	return m.storage.GetSearchHistory(ctx, userName)
}

func (m *Manager) AddSearchHistory(ctx context.Context, userName, keyword string) error {
	return m.storage.AddSearchHistory(ctx, userName, keyword)
}

func (m *Manager) DeleteSearchHistory(ctx context.Context, userName, keyword string) error {
	return m.storage.DeleteSearchHistory(ctx, userName, keyword)
}

// ---------- 用户 ----------

func (m *Manager) RegisterUser(ctx context.Context, userName, password string) error {
	return m.storage.RegisterUser(ctx, userName, password)
}

func (m *Manager) VerifyUser(ctx context.Context, userName, password string) (bool, error) {
	return m.storage.VerifyUser(ctx, userName, password)
}

func (m *Manager) CheckUserExist(ctx context.Context, userName string) (bool, error) {
	return m.storage.CheckUserExist(ctx, userName)
}

func (m *Manager) ChangePassword(ctx context.Context, userName, newPassword string) error {
	return m.storage.ChangePassword(ctx, userName, newPassword)
}

func (m *Manager) DeleteUser(ctx context.Context, userName string) error {
	return m.storage.DeleteUser(ctx, userName)
}

func (m *Manager) GetAllUsers(ctx context.Context) ([]string, error) {
	users, err := m.storage.GetAllUsers(ctx)
	if errors.Is(err, ErrNotSupported) {
		return []string{}, nil
	}
	return users, err
}

// ---------- 管理员配置 ----------

func (m *Manager) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	cfg, err := m.storage.GetAdminConfig(ctx)
	if errors.Is(err, ErrNotSupported) {
		return nil, nil
	}
	return cfg, m.absorbCorrupt(err, "管理员配置")
}

func (m *Manager) SaveAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	err := m.storage.SetAdminConfig(ctx, cfg)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

// ---------- 新版分离存储 ----------

func (m *Manager) GetSiteConfig(ctx context.Context) (*model.SiteConfig, error) {
	cfg, err := m.storage.GetSiteConfig(ctx)
	if errors.Is(err, ErrNotSupported) {
		return nil, nil
	}
	return cfg, m.absorbCorrupt(err, "站点配置")
}

func (m *Manager) SetSiteConfig(ctx context.Context, cfg *model.SiteConfig) error {
	err := m.storage.SetSiteConfig(ctx, cfg)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) GetSourceConfig(ctx context.Context) ([]model.SourceItem, error) {
	sources, err := m.storage.GetSourceConfig(ctx)
	if errors.Is(err, ErrNotSupported) {
		return []model.SourceItem{}, nil
	}
	return sources, err
}

func (m *Manager) SetSourceConfig(ctx context.Context, sources []model.SourceItem) error {
	err := m.storage.SetSourceConfig(ctx, sources)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) GetCustomCategories(ctx context.Context) ([]model.CustomCategory, error) {
	categories, err := m.storage.GetCustomCategories(ctx)
	if errors.Is(err, ErrNotSupported) {
		return []model.CustomCategory{}, nil
	}
	return categories, err
}

func (m *Manager) SetCustomCategories(ctx context.Context, categories []model.CustomCategory) error {
	err := m.storage.SetCustomCategories(ctx, categories)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) GetAllowRegister(ctx context.Context) (bool, error) {
	allow, err := m.storage.GetAllowRegister(ctx)
	if errors.Is(err, ErrNotSupported) {
		return false, nil
	}
	return allow, err
}

func (m *Manager) SetAllowRegister(ctx context.Context, allow bool) error {
	err := m.storage.SetAllowRegister(ctx, allow)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) GetUserRole(ctx context.Context, userName string) (string, error) {
	role, err := m.storage.GetUserRole(ctx, userName)
	if errors.Is(err, ErrNotSupported) {
		return "", nil
	}
	return role, err
}

func (m *Manager) SetUserRole(ctx context.Context, userName, role string) error {
	// 默认角色不落盘，写 user 等价于删除角色记录
	if role == model.RoleUser {
		return m.DeleteUserRole(ctx, userName)
	}
	err := m.storage.SetUserRole(ctx, userName, role)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) DeleteUserRole(ctx context.Context, userName string) error {
	err := m.storage.DeleteUserRole(ctx, userName)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) GetUserBanned(ctx context.Context, userName string) (bool, error) {
	banned, err := m.storage.GetUserBanned(ctx, userName)
	if errors.Is(err, ErrNotSupported) {
		return false, nil
	}
	return banned, err
}

func (m *Manager) SetUserBanned(ctx context.Context, userName string, banned bool) error {
	err := m.storage.SetUserBanned(ctx, userName, banned)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

func (m *Manager) GetAllUsersWithRoles(ctx context.Context) ([]model.UserEntry, error) {
	entries, err := m.storage.GetAllUsersWithRoles(ctx)
	if errors.Is(err, ErrNotSupported) {
		return []model.UserEntry{}, nil
	}
	return entries, err
}

// ---------- 迁移与配置组装 ----------

func (m *Manager) MigrateFromLegacy(ctx context.Context) (bool, error) {
	migrated, err := MigrateFromLegacy(ctx, m.storage)
	if errors.Is(err, ErrNotSupported) {
		return false, nil
	}
	return migrated, err
}

func (m *Manager) GetAdminConfigFromSeparated(ctx context.Context) (*model.AdminConfig, error) {
	cfg, err := GetAdminConfigFromSeparated(ctx, m.storage)
	if errors.Is(err, ErrNotSupported) {
		return nil, nil
	}
	return cfg, err
}

func (m *Manager) SetAdminConfigSeparated(ctx context.Context, cfg *model.AdminConfig) error {
	err := SetAdminConfigSeparated(ctx, m.storage, cfg)
	if errors.Is(err, ErrNotSupported) {
		return nil
	}
	return err
}

// absorbCorrupt 读路径将损坏记录按不存在处理，但留下日志以便排查
func (m *Manager) absorbCorrupt(err error, kind string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCorruptRecord) {
		log.Printf("读取到损坏的%s，按不存在处理: %v", kind, err)
		return nil
	}
	return err
}
