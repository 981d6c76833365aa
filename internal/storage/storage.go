package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/moontv/internal/config"
	"github.com/user/moontv/internal/model"
)

// 错误分类
var (
	// ErrStorageUnavailable 重试耗尽后后端仍不可达
	ErrStorageUnavailable = errors.New("存储后端不可用")
	// ErrCorruptRecord 存储的值无法解析为预期结构
	ErrCorruptRecord = errors.New("存储记录已损坏")
	// ErrNotSupported 当前后端未实现该操作，调用方降级到中性默认值
	ErrNotSupported = errors.New("当前存储后端不支持该操作")
)

// Storage 统一存储后端契约
// 不存在的记录返回 (nil, nil)，不作为错误处理
type Storage interface {
	// 播放记录，key 为 source+id 组合键
	GetPlayRecord(ctx context.Context, userName, key string) (*model.PlayRecord, error)
	SetPlayRecord(ctx context.Context, userName, key string, record *model.PlayRecord) error
	GetAllPlayRecords(ctx context.Context, userName string) (map[string]*model.PlayRecord, error)
	DeletePlayRecord(ctx context.Context, userName, key string) error

	// 收藏
	GetFavorite(ctx context.Context, userName, key string) (*model.Favorite, error)
	SetFavorite(ctx context.Context, userName, key string, favorite *model.Favorite) error
	GetAllFavorites(ctx context.Context, userName string) (map[string]*model.Favorite, error)
	DeleteFavorite(ctx context.Context, userName, key string) error

	// 跳过片头片尾配置
	GetSkipConfig(ctx context.Context, userName, key string) (*model.SkipConfig, error)
	SetSkipConfig(ctx context.Context, userName, key string, cfg *model.SkipConfig) error
	GetAllSkipConfigs(ctx context.Context, userName string) (map[string]*model.SkipConfig, error)
	DeleteSkipConfig(ctx context.Context, userName, key string) error

	// 搜索历史，最新在前，去重，最多保留 SearchHistoryLimit 条
	GetSearchHistory(ctx context.Context, userName string) ([]string, error)
	AddSearchHistory(ctx context.Context, userName, keyword string) error
	// keyword 为空时清空全部历史
	DeleteSearchHistory(ctx context.Context, userName, keyword string) error

	// 用户
	RegisterUser(ctx context.Context, userName, password string) error
	VerifyUser(ctx context.Context, userName, password string) (bool, error)
	CheckUserExist(ctx context.Context, userName string) (bool, error)
	ChangePassword(ctx context.Context, userName, newPassword string) error
	// DeleteUser 级联删除该用户的密码、搜索历史、播放记录、收藏与跳过配置
	DeleteUser(ctx context.Context, userName string) error
	GetAllUsers(ctx context.Context) ([]string, error)

	// 旧版管理员配置（整体 blob，保留用于迁移）
	GetAdminConfig(ctx context.Context) (*model.AdminConfig, error)
	SetAdminConfig(ctx context.Context, cfg *model.AdminConfig) error
	DeleteAdminConfig(ctx context.Context) error

	// 新版分离存储
	GetSiteConfig(ctx context.Context) (*model.SiteConfig, error)
	SetSiteConfig(ctx context.Context, cfg *model.SiteConfig) error
	GetSourceConfig(ctx context.Context) ([]model.SourceItem, error)
	SetSourceConfig(ctx context.Context, sources []model.SourceItem) error
	GetCustomCategories(ctx context.Context) ([]model.CustomCategory, error)
	SetCustomCategories(ctx context.Context, categories []model.CustomCategory) error
	GetAllowRegister(ctx context.Context) (bool, error)
	SetAllowRegister(ctx context.Context, allow bool) error
	GetUserRole(ctx context.Context, userName string) (string, error)
	SetUserRole(ctx context.Context, userName, role string) error
	DeleteUserRole(ctx context.Context, userName string) error
	GetUserBanned(ctx context.Context, userName string) (bool, error)
	SetUserBanned(ctx context.Context, userName string, banned bool) error
	GetAllUsersWithRoles(ctx context.Context) ([]model.UserEntry, error)
}

// New 根据配置创建存储后端
func New(cfg *config.Config) (Storage, error) {
	switch cfg.StorageType {
	case config.StorageTypeMemory:
		return NewMemoryStorage(), nil
	case config.StorageTypeRedis:
		return NewRedisStorage(cfg.RedisURL)
	case config.StorageTypePostgres:
		return NewPostgresStorage(cfg.DatabaseURL)
	case config.StorageTypeUpstash:
		return NewUpstashStorage(cfg.UpstashURL, cfg.UpstashToken)
	default:
		return nil, fmt.Errorf("未知的存储类型: %s", cfg.StorageType)
	}
}

// 进程级单例，启动时选定后全程共享
var (
	instance     Storage
	instanceOnce sync.Once
	instanceErr  error
	instanceMu   sync.Mutex
)

// GetInstance 懒加载获取进程级存储实例
func GetInstance(cfg *config.Config) (Storage, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = New(cfg)
	})
	return instance, instanceErr
}

// ResetInstance 重置单例（含共享 Redis 客户端），仅用于测试注入
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
	instanceErr = nil
	instanceOnce = sync.Once{}
	resetRedisClient()
}
