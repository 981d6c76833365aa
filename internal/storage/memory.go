package storage

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/user/moontv/internal/model"
)

// MemoryStorage 进程内存储，用于本地开发与测试
// 物理键格式与远程后端保持一致，便于前缀枚举逻辑对齐
type MemoryStorage struct {
	mu sync.RWMutex

	playRecords map[string]model.PlayRecord
	favorites   map[string]model.Favorite
	skipConfigs map[string]model.SkipConfig
	passwords   map[string]string
	roles       map[string]string
	banned      map[string]bool

	// 搜索历史用 LRU 表达：容量即上限，访问序即最新在前
	searchHistories map[string]*lru.Cache[string, struct{}]

	adminConfig      *model.AdminConfig
	siteConfig       *model.SiteConfig
	sourceConfig     []model.SourceItem
	customCategories []model.CustomCategory
	allowRegister    *bool
}

// NewMemoryStorage 创建内存存储
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		playRecords:     make(map[string]model.PlayRecord),
		favorites:       make(map[string]model.Favorite),
		skipConfigs:     make(map[string]model.SkipConfig),
		passwords:       make(map[string]string),
		roles:           make(map[string]string),
		banned:          make(map[string]bool),
		searchHistories: make(map[string]*lru.Cache[string, struct{}]),
	}
}

// ---------- 播放记录 ----------

func (s *MemoryStorage) GetPlayRecord(_ context.Context, userName, key string) (*model.PlayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.playRecords[playRecordKey(userName, key)]; ok {
		return &record, nil
	}
	return nil, nil
}

func (s *MemoryStorage) SetPlayRecord(_ context.Context, userName, key string, record *model.PlayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playRecords[playRecordKey(userName, key)] = *record
	return nil
}

func (s *MemoryStorage) GetAllPlayRecords(_ context.Context, userName string) (map[string]*model.PlayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := playRecordPrefix(userName)
	result := make(map[string]*model.PlayRecord)
	for fullKey, record := range s.playRecords {
		if strings.HasPrefix(fullKey, prefix) {
			r := record
			result[extractCompositeKey(fullKey, prefix)] = &r
		}
	}
	return result, nil
}

func (s *MemoryStorage) DeletePlayRecord(_ context.Context, userName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.playRecords, playRecordKey(userName, key))
	return nil
}

// ---------- 收藏 ----------

func (s *MemoryStorage) GetFavorite(_ context.Context, userName, key string) (*model.Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if favorite, ok := s.favorites[favoriteKey(userName, key)]; ok {
		return &favorite, nil
	}
	return nil, nil
}

func (s *MemoryStorage) SetFavorite(_ context.Context, userName, key string, favorite *model.Favorite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.favorites[favoriteKey(userName, key)] = *favorite
	return nil
}

func (s *MemoryStorage) GetAllFavorites(_ context.Context, userName string) (map[string]*model.Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := favoritePrefix(userName)
	result := make(map[string]*model.Favorite)
	for fullKey, favorite := range s.favorites {
		if strings.HasPrefix(fullKey, prefix) {
			f := favorite
			result[extractCompositeKey(fullKey, prefix)] = &f
		}
	}
	return result, nil
}

func (s *MemoryStorage) DeleteFavorite(_ context.Context, userName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.favorites, favoriteKey(userName, key))
	return nil
}

// ---------- 跳过片头片尾配置 ----------

func (s *MemoryStorage) GetSkipConfig(_ context.Context, userName, key string) (*model.SkipConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.skipConfigs[skipConfigKey(userName, key)]; ok {
		return &cfg, nil
	}
	return nil, nil
}

func (s *MemoryStorage) SetSkipConfig(_ context.Context, userName, key string, cfg *model.SkipConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipConfigs[skipConfigKey(userName, key)] = *cfg
	return nil
}

func (s *MemoryStorage) GetAllSkipConfigs(_ context.Context, userName string) (map[string]*model.SkipConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := skipConfigPrefix(userName)
	result := make(map[string]*model.SkipConfig)
	for fullKey, cfg := range s.skipConfigs {
		if strings.HasPrefix(fullKey, prefix) {
			c := cfg
			result[extractCompositeKey(fullKey, prefix)] = &c
		}
	}
	return result, nil
}

func (s *MemoryStorage) DeleteSkipConfig(_ context.Context, userName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.skipConfigs, skipConfigKey(userName, key))
	return nil
}

// ---------- 搜索历史 ----------

// historyCache 获取某用户的历史缓存，必要时创建
func (s *MemoryStorage) historyCache(userName string) *lru.Cache[string, struct{}] {
	if c, ok := s.searchHistories[userName]; ok {
		return c
	}
	c, _ := lru.New[string, struct{}](SearchHistoryLimit)
	s.searchHistories[userName] = c
	return c
}

func (s *MemoryStorage) GetSearchHistory(_ context.Context, userName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.searchHistories[userName]
	if !ok {
		return []string{}, nil
	}
	// Keys 返回从最旧到最新，这里反转成最新在前
	keys := c.Keys()
	result := make([]string, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		result = append(result, keys[i])
	}
	return result, nil
}

func (s *MemoryStorage) AddSearchHistory(_ context.Context, userName, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Add 对已有键会更新访问序，容量满时自动淘汰最旧项
	s.historyCache(userName).Add(keyword, struct{}{})
	return nil
}

func (s *MemoryStorage) DeleteSearchHistory(_ context.Context, userName, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.searchHistories[userName]
	if !ok {
		return nil
	}
	if keyword == "" {
		c.Purge()
		return nil
	}
	c.Remove(keyword)
	return nil
}

// ---------- 用户 ----------

func (s *MemoryStorage) RegisterUser(_ context.Context, userName, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[passwordKey(userName)] = password
	return nil
}

func (s *MemoryStorage) VerifyUser(_ context.Context, userName, password string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.passwords[passwordKey(userName)]
	return ok && stored == password, nil
}

func (s *MemoryStorage) CheckUserExist(_ context.Context, userName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.passwords[passwordKey(userName)]
	return ok, nil
}

func (s *MemoryStorage) ChangePassword(_ context.Context, userName, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[passwordKey(userName)] = newPassword
	return nil
}

func (s *MemoryStorage) DeleteUser(_ context.Context, userName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.passwords, passwordKey(userName))
	delete(s.roles, userRoleKey(userName))
	delete(s.banned, userBannedKey(userName))
	delete(s.searchHistories, userName)
	for fullKey := range s.playRecords {
		if strings.HasPrefix(fullKey, playRecordPrefix(userName)) {
			delete(s.playRecords, fullKey)
		}
	}
	for fullKey := range s.favorites {
		if strings.HasPrefix(fullKey, favoritePrefix(userName)) {
			delete(s.favorites, fullKey)
		}
	}
	for fullKey := range s.skipConfigs {
		if strings.HasPrefix(fullKey, skipConfigPrefix(userName)) {
			delete(s.skipConfigs, fullKey)
		}
	}
	return nil
}

func (s *MemoryStorage) GetAllUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.passwords))
	for fullKey := range s.passwords {
		if name := usernameFromPasswordKey(fullKey); name != "" {
			users = append(users, name)
		}
	}
	return users, nil
}

// ---------- 旧版管理员配置 ----------

func (s *MemoryStorage) GetAdminConfig(_ context.Context) (*model.AdminConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.adminConfig == nil {
		return nil, nil
	}
	cfg := cloneAdminConfig(s.adminConfig)
	return cfg, nil
}

func (s *MemoryStorage) SetAdminConfig(_ context.Context, cfg *model.AdminConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminConfig = cloneAdminConfig(cfg)
	return nil
}

func (s *MemoryStorage) DeleteAdminConfig(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminConfig = nil
	return nil
}

// ---------- 新版分离存储 ----------

func (s *MemoryStorage) GetSiteConfig(_ context.Context) (*model.SiteConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.siteConfig == nil {
		return nil, nil
	}
	cfg := *s.siteConfig
	return &cfg, nil
}

func (s *MemoryStorage) SetSiteConfig(_ context.Context, cfg *model.SiteConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	s.siteConfig = &c
	return nil
}

func (s *MemoryStorage) GetSourceConfig(_ context.Context) ([]model.SourceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sourceConfig == nil {
		return nil, nil
	}
	return append([]model.SourceItem(nil), s.sourceConfig...), nil
}

func (s *MemoryStorage) SetSourceConfig(_ context.Context, sources []model.SourceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceConfig = append([]model.SourceItem{}, sources...)
	return nil
}

func (s *MemoryStorage) GetCustomCategories(_ context.Context) ([]model.CustomCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.customCategories == nil {
		return nil, nil
	}
	return append([]model.CustomCategory(nil), s.customCategories...), nil
}

func (s *MemoryStorage) SetCustomCategories(_ context.Context, categories []model.CustomCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customCategories = append([]model.CustomCategory{}, categories...)
	return nil
}

func (s *MemoryStorage) GetAllowRegister(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.allowRegister == nil {
		return false, nil
	}
	return *s.allowRegister, nil
}

func (s *MemoryStorage) SetAllowRegister(_ context.Context, allow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowRegister = &allow
	return nil
}

func (s *MemoryStorage) GetUserRole(_ context.Context, userName string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[userRoleKey(userName)], nil
}

func (s *MemoryStorage) SetUserRole(_ context.Context, userName, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userRoleKey(userName)] = role
	return nil
}

func (s *MemoryStorage) DeleteUserRole(_ context.Context, userName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, userRoleKey(userName))
	return nil
}

func (s *MemoryStorage) GetUserBanned(_ context.Context, userName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.banned[userBannedKey(userName)], nil
}

func (s *MemoryStorage) SetUserBanned(_ context.Context, userName string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if banned {
		s.banned[userBannedKey(userName)] = true
	} else {
		// 解禁直接删除标记，与远程后端行为一致
		delete(s.banned, userBannedKey(userName))
	}
	return nil
}

func (s *MemoryStorage) GetAllUsersWithRoles(ctx context.Context) ([]model.UserEntry, error) {
	users, err := s.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]model.UserEntry, 0, len(users))
	for _, name := range users {
		role := s.roles[userRoleKey(name)]
		if role == "" {
			role = model.RoleUser
		}
		entries = append(entries, model.UserEntry{
			Username: name,
			Role:     role,
			Banned:   s.banned[userBannedKey(name)],
		})
	}
	return entries, nil
}

// cloneAdminConfig 深拷贝，避免调用方修改内部状态
func cloneAdminConfig(cfg *model.AdminConfig) *model.AdminConfig {
	c := *cfg
	c.SourceConfig = append([]model.SourceItem(nil), cfg.SourceConfig...)
	c.CustomCategories = append([]model.CustomCategory(nil), cfg.CustomCategories...)
	c.UserConfig.Users = append([]model.UserEntry(nil), cfg.UserConfig.Users...)
	return &c
}
