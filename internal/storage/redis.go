package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/user/moontv/internal/model"
	"golang.org/x/sync/errgroup"
)

// getAllConcurrency 枚举后并发取值的上限
// 枚举与取值之间键可能消失，缺失按不存在处理而非报错
const getAllConcurrency = 8

// 进程级共享的 Redis 客户端，懒加载
var (
	redisClient     *goredis.Client
	redisClientOnce sync.Once
	redisClientErr  error
)

func getRedisClient(redisURL string) (*goredis.Client, error) {
	redisClientOnce.Do(func() {
		opt, err := goredis.ParseURL(redisURL)
		if err != nil {
			redisClientErr = fmt.Errorf("解析 REDIS_URL 失败: %w", err)
			return
		}
		redisClient = goredis.NewClient(opt)
		log.Println("Redis 客户端创建成功")
	})
	return redisClient, redisClientErr
}

// resetRedisClient 重置共享客户端，随 ResetInstance 调用
func resetRedisClient() {
	if redisClient != nil {
		_ = redisClient.Close()
	}
	redisClient = nil
	redisClientErr = nil
	redisClientOnce = sync.Once{}
}

// RedisStorage 标准 Redis 后端，值统一存 JSON
type RedisStorage struct {
	client *goredis.Client
}

// NewRedisStorage 创建 Redis 存储
func NewRedisStorage(redisURL string) (*RedisStorage, error) {
	client, err := getRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStorage{client: client}, nil
}

// getJSON 读取 key 并反序列化到 target，不存在返回 (false, nil)
func (s *RedisStorage) getJSON(ctx context.Context, key string, target interface{}) (bool, error) {
	var val string
	err := withRetry(ctx, func() error {
		var e error
		val, e = s.client.Get(ctx, key).Result()
		return e
	})
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("%w: key=%s: %v", ErrCorruptRecord, key, err)
	}
	return true, nil
}

func (s *RedisStorage) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		return s.client.Set(ctx, key, string(data), 0).Err()
	})
}

func (s *RedisStorage) del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return withRetry(ctx, func() error {
		return s.client.Del(ctx, keys...).Err()
	})
}

func (s *RedisStorage) keys(ctx context.Context, pattern string) ([]string, error) {
	var result []string
	err := withRetry(ctx, func() error {
		var e error
		result, e = s.client.Keys(ctx, pattern).Result()
		return e
	})
	return result, err
}

// ---------- 播放记录 ----------

func (s *RedisStorage) GetPlayRecord(ctx context.Context, userName, key string) (*model.PlayRecord, error) {
	var record model.PlayRecord
	ok, err := s.getJSON(ctx, playRecordKey(userName, key), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

func (s *RedisStorage) SetPlayRecord(ctx context.Context, userName, key string, record *model.PlayRecord) error {
	return s.setJSON(ctx, playRecordKey(userName, key), record)
}

func (s *RedisStorage) GetAllPlayRecords(ctx context.Context, userName string) (map[string]*model.PlayRecord, error) {
	prefix := playRecordPrefix(userName)
	fullKeys, err := s.keys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[string]*model.PlayRecord, len(fullKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(getAllConcurrency)
	for _, fullKey := range fullKeys {
		fullKey := fullKey
		g.Go(func() error {
			var record model.PlayRecord
			ok, err := s.getJSON(gctx, fullKey, &record)
			if err != nil {
				if isCorrupt(err) {
					log.Printf("跳过损坏的播放记录: %v", err)
					return nil
				}
				return err
			}
			if ok {
				mu.Lock()
				result[extractCompositeKey(fullKey, prefix)] = &record
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStorage) DeletePlayRecord(ctx context.Context, userName, key string) error {
	return s.del(ctx, playRecordKey(userName, key))
}

// ---------- 收藏 ----------

func (s *RedisStorage) GetFavorite(ctx context.Context, userName, key string) (*model.Favorite, error) {
	var favorite model.Favorite
	ok, err := s.getJSON(ctx, favoriteKey(userName, key), &favorite)
	if err != nil || !ok {
		return nil, err
	}
	return &favorite, nil
}

func (s *RedisStorage) SetFavorite(ctx context.Context, userName, key string, favorite *model.Favorite) error {
	return s.setJSON(ctx, favoriteKey(userName, key), favorite)
}

func (s *RedisStorage) GetAllFavorites(ctx context.Context, userName string) (map[string]*model.Favorite, error) {
	prefix := favoritePrefix(userName)
	fullKeys, err := s.keys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[string]*model.Favorite, len(fullKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(getAllConcurrency)
	for _, fullKey := range fullKeys {
		fullKey := fullKey
		g.Go(func() error {
			var favorite model.Favorite
			ok, err := s.getJSON(gctx, fullKey, &favorite)
			if err != nil {
				if isCorrupt(err) {
					log.Printf("跳过损坏的收藏记录: %v", err)
					return nil
				}
				return err
			}
			if ok {
				mu.Lock()
				result[extractCompositeKey(fullKey, prefix)] = &favorite
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStorage) DeleteFavorite(ctx context.Context, userName, key string) error {
	return s.del(ctx, favoriteKey(userName, key))
}

// ---------- 跳过片头片尾配置 ----------

func (s *RedisStorage) GetSkipConfig(ctx context.Context, userName, key string) (*model.SkipConfig, error) {
	var cfg model.SkipConfig
	ok, err := s.getJSON(ctx, skipConfigKey(userName, key), &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisStorage) SetSkipConfig(ctx context.Context, userName, key string, cfg *model.SkipConfig) error {
	return s.setJSON(ctx, skipConfigKey(userName, key), cfg)
}

func (s *RedisStorage) GetAllSkipConfigs(ctx context.Context, userName string) (map[string]*model.SkipConfig, error) {
	prefix := skipConfigPrefix(userName)
	fullKeys, err := s.keys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	if len(fullKeys) == 0 {
		return map[string]*model.SkipConfig{}, nil
	}

	// 跳过配置体积小，直接 MGET 批量取回
	var values []interface{}
	err = withRetry(ctx, func() error {
		var e error
		values, e = s.client.MGet(ctx, fullKeys...).Result()
		return e
	})
	if err != nil {
		return nil, err
	}

	result := make(map[string]*model.SkipConfig, len(fullKeys))
	for i, fullKey := range fullKeys {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		var cfg model.SkipConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			log.Printf("跳过损坏的跳过配置: key=%s: %v", fullKey, err)
			continue
		}
		result[extractCompositeKey(fullKey, prefix)] = &cfg
	}
	return result, nil
}

func (s *RedisStorage) DeleteSkipConfig(ctx context.Context, userName, key string) error {
	return s.del(ctx, skipConfigKey(userName, key))
}

// ---------- 搜索历史 ----------

func (s *RedisStorage) GetSearchHistory(ctx context.Context, userName string) ([]string, error) {
	var result []string
	err := withRetry(ctx, func() error {
		var e error
		result, e = s.client.LRange(ctx, searchHistoryKey(userName), 0, -1).Result()
		return e
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []string{}
	}
	return result, nil
}

// AddSearchHistory 去重后插入队首并截断
// 三步操作非原子，并发写同一用户可能交错，属于接受的竞态
func (s *RedisStorage) AddSearchHistory(ctx context.Context, userName, keyword string) error {
	key := searchHistoryKey(userName)
	if err := withRetry(ctx, func() error {
		return s.client.LRem(ctx, key, 0, keyword).Err()
	}); err != nil {
		return err
	}
	if err := withRetry(ctx, func() error {
		return s.client.LPush(ctx, key, keyword).Err()
	}); err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		return s.client.LTrim(ctx, key, 0, SearchHistoryLimit-1).Err()
	})
}

func (s *RedisStorage) DeleteSearchHistory(ctx context.Context, userName, keyword string) error {
	key := searchHistoryKey(userName)
	if keyword == "" {
		return s.del(ctx, key)
	}
	return withRetry(ctx, func() error {
		return s.client.LRem(ctx, key, 0, keyword).Err()
	})
}

// ---------- 用户 ----------

func (s *RedisStorage) RegisterUser(ctx context.Context, userName, password string) error {
	// 按原有数据格式存储明文，加密属产品层决策
	return withRetry(ctx, func() error {
		return s.client.Set(ctx, passwordKey(userName), password, 0).Err()
	})
}

func (s *RedisStorage) VerifyUser(ctx context.Context, userName, password string) (bool, error) {
	var stored string
	err := withRetry(ctx, func() error {
		var e error
		stored, e = s.client.Get(ctx, passwordKey(userName)).Result()
		return e
	})
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == password, nil
}

func (s *RedisStorage) CheckUserExist(ctx context.Context, userName string) (bool, error) {
	var exists int64
	err := withRetry(ctx, func() error {
		var e error
		exists, e = s.client.Exists(ctx, passwordKey(userName)).Result()
		return e
	})
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

func (s *RedisStorage) ChangePassword(ctx context.Context, userName, newPassword string) error {
	return withRetry(ctx, func() error {
		return s.client.Set(ctx, passwordKey(userName), newPassword, 0).Err()
	})
}

func (s *RedisStorage) DeleteUser(ctx context.Context, userName string) error {
	if err := s.del(ctx, passwordKey(userName), searchHistoryKey(userName),
		userRoleKey(userName), userBannedKey(userName)); err != nil {
		return err
	}
	for _, pattern := range []string{
		playRecordPrefix(userName) + "*",
		favoritePrefix(userName) + "*",
		skipConfigPrefix(userName) + "*",
	} {
		fullKeys, err := s.keys(ctx, pattern)
		if err != nil {
			return err
		}
		if err := s.del(ctx, fullKeys...); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStorage) GetAllUsers(ctx context.Context) ([]string, error) {
	fullKeys, err := s.keys(ctx, "u:*:pwd")
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(fullKeys))
	for _, fullKey := range fullKeys {
		if name := usernameFromPasswordKey(fullKey); name != "" {
			users = append(users, name)
		}
	}
	return users, nil
}

// ---------- 旧版管理员配置 ----------

func (s *RedisStorage) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	var cfg model.AdminConfig
	ok, err := s.getJSON(ctx, adminConfigKey, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisStorage) SetAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	return s.setJSON(ctx, adminConfigKey, cfg)
}

func (s *RedisStorage) DeleteAdminConfig(ctx context.Context) error {
	return s.del(ctx, adminConfigKey)
}

// ---------- 新版分离存储 ----------

func (s *RedisStorage) GetSiteConfig(ctx context.Context) (*model.SiteConfig, error) {
	var cfg model.SiteConfig
	ok, err := s.getJSON(ctx, siteConfigKey, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisStorage) SetSiteConfig(ctx context.Context, cfg *model.SiteConfig) error {
	return s.setJSON(ctx, siteConfigKey, cfg)
}

func (s *RedisStorage) GetSourceConfig(ctx context.Context) ([]model.SourceItem, error) {
	var sources []model.SourceItem
	ok, err := s.getJSON(ctx, sourceConfigKey, &sources)
	if err != nil || !ok {
		return nil, err
	}
	return sources, nil
}

func (s *RedisStorage) SetSourceConfig(ctx context.Context, sources []model.SourceItem) error {
	return s.setJSON(ctx, sourceConfigKey, sources)
}

func (s *RedisStorage) GetCustomCategories(ctx context.Context) ([]model.CustomCategory, error) {
	var categories []model.CustomCategory
	ok, err := s.getJSON(ctx, categoriesKey, &categories)
	if err != nil || !ok {
		return nil, err
	}
	return categories, nil
}

func (s *RedisStorage) SetCustomCategories(ctx context.Context, categories []model.CustomCategory) error {
	return s.setJSON(ctx, categoriesKey, categories)
}

func (s *RedisStorage) GetAllowRegister(ctx context.Context) (bool, error) {
	var val string
	err := withRetry(ctx, func() error {
		var e error
		val, e = s.client.Get(ctx, allowRegisterKey).Result()
		return e
	})
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}

func (s *RedisStorage) SetAllowRegister(ctx context.Context, allow bool) error {
	return withRetry(ctx, func() error {
		return s.client.Set(ctx, allowRegisterKey, strconv.FormatBool(allow), 0).Err()
	})
}

func (s *RedisStorage) GetUserRole(ctx context.Context, userName string) (string, error) {
	var val string
	err := withRetry(ctx, func() error {
		var e error
		val, e = s.client.Get(ctx, userRoleKey(userName)).Result()
		return e
	})
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if val != model.RoleOwner && val != model.RoleAdmin && val != model.RoleUser {
		return "", nil
	}
	return val, nil
}

func (s *RedisStorage) SetUserRole(ctx context.Context, userName, role string) error {
	return withRetry(ctx, func() error {
		return s.client.Set(ctx, userRoleKey(userName), role, 0).Err()
	})
}

func (s *RedisStorage) DeleteUserRole(ctx context.Context, userName string) error {
	return s.del(ctx, userRoleKey(userName))
}

func (s *RedisStorage) GetUserBanned(ctx context.Context, userName string) (bool, error) {
	var exists int64
	err := withRetry(ctx, func() error {
		var e error
		exists, e = s.client.Exists(ctx, userBannedKey(userName)).Result()
		return e
	})
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

func (s *RedisStorage) SetUserBanned(ctx context.Context, userName string, banned bool) error {
	if banned {
		return withRetry(ctx, func() error {
			return s.client.Set(ctx, userBannedKey(userName), "true", 0).Err()
		})
	}
	return s.del(ctx, userBannedKey(userName))
}

func (s *RedisStorage) GetAllUsersWithRoles(ctx context.Context) ([]model.UserEntry, error) {
	return collectUsersWithRoles(ctx, s)
}
