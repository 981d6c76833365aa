package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/user/moontv/internal/model"
	"golang.org/x/sync/errgroup"
)

// upstashError REST 接口返回的错误，5xx 视为瞬时故障参与重试
type upstashError struct {
	StatusCode int
	Message    string
}

func (e *upstashError) Error() string {
	return fmt.Sprintf("upstash 请求失败，状态码 %d: %s", e.StatusCode, e.Message)
}

func (e *upstashError) Transient() bool {
	return e.StatusCode >= 500
}

// upstashClient Upstash REST 协议客户端
// 命令以 JSON 数组 POST 到服务端，响应为 {"result": ...} 或 {"error": ...}
type upstashClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newUpstashClient(baseURL, token string) *upstashClient {
	return &upstashClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// do 执行单条命令并返回原始 result
func (c *upstashClient) do(ctx context.Context, command ...interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(command)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var parsed struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &upstashError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		return nil, &upstashError{StatusCode: resp.StatusCode, Message: parsed.Error}
	}
	return parsed.Result, nil
}

// UpstashStorage 基于 REST 的 Redis 变体后端
type UpstashStorage struct {
	client *upstashClient
}

// NewUpstashStorage 创建 Upstash 存储
func NewUpstashStorage(baseURL, token string) (*UpstashStorage, error) {
	if baseURL == "" || token == "" {
		return nil, errors.New("必须设置 UPSTASH_URL 和 UPSTASH_TOKEN 环境变量")
	}
	log.Println("Upstash Redis 客户端创建成功")
	return &UpstashStorage{client: newUpstashClient(baseURL, token)}, nil
}

// getString 读取字符串值，不存在返回 (false, nil)
func (s *UpstashStorage) getString(ctx context.Context, key string) (string, bool, error) {
	var raw json.RawMessage
	err := withRetry(ctx, func() error {
		var e error
		raw, e = s.client.do(ctx, "GET", key)
		return e
	})
	if err != nil {
		return "", false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", false, nil
	}
	var val string
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", false, fmt.Errorf("%w: key=%s: %v", ErrCorruptRecord, key, err)
	}
	return val, true, nil
}

func (s *UpstashStorage) getJSON(ctx context.Context, key string, target interface{}) (bool, error) {
	val, ok, err := s.getString(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("%w: key=%s: %v", ErrCorruptRecord, key, err)
	}
	return true, nil
}

func (s *UpstashStorage) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.setString(ctx, key, string(data))
}

func (s *UpstashStorage) setString(ctx context.Context, key, value string) error {
	return withRetry(ctx, func() error {
		_, e := s.client.do(ctx, "SET", key, value)
		return e
	})
}

func (s *UpstashStorage) del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	command := make([]interface{}, 0, len(keys)+1)
	command = append(command, "DEL")
	for _, k := range keys {
		command = append(command, k)
	}
	return withRetry(ctx, func() error {
		_, e := s.client.do(ctx, command...)
		return e
	})
}

func (s *UpstashStorage) keys(ctx context.Context, pattern string) ([]string, error) {
	var raw json.RawMessage
	err := withRetry(ctx, func() error {
		var e error
		raw, e = s.client.do(ctx, "KEYS", pattern)
		return e
	})
	if err != nil {
		return nil, err
	}
	var result []string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("解析 KEYS 响应失败: %w", err)
	}
	return result, nil
}

// ---------- 播放记录 ----------

func (s *UpstashStorage) GetPlayRecord(ctx context.Context, userName, key string) (*model.PlayRecord, error) {
	var record model.PlayRecord
	ok, err := s.getJSON(ctx, playRecordKey(userName, key), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

func (s *UpstashStorage) SetPlayRecord(ctx context.Context, userName, key string, record *model.PlayRecord) error {
	return s.setJSON(ctx, playRecordKey(userName, key), record)
}

func (s *UpstashStorage) GetAllPlayRecords(ctx context.Context, userName string) (map[string]*model.PlayRecord, error) {
	prefix := playRecordPrefix(userName)
	return getAllByPrefix[model.PlayRecord](ctx, s, prefix)
}

func (s *UpstashStorage) DeletePlayRecord(ctx context.Context, userName, key string) error {
	return s.del(ctx, playRecordKey(userName, key))
}

// ---------- 收藏 ----------

func (s *UpstashStorage) GetFavorite(ctx context.Context, userName, key string) (*model.Favorite, error) {
	var favorite model.Favorite
	ok, err := s.getJSON(ctx, favoriteKey(userName, key), &favorite)
	if err != nil || !ok {
		return nil, err
	}
	return &favorite, nil
}

func (s *UpstashStorage) SetFavorite(ctx context.Context, userName, key string, favorite *model.Favorite) error {
	return s.setJSON(ctx, favoriteKey(userName, key), favorite)
}

func (s *UpstashStorage) GetAllFavorites(ctx context.Context, userName string) (map[string]*model.Favorite, error) {
	return getAllByPrefix[model.Favorite](ctx, s, favoritePrefix(userName))
}

func (s *UpstashStorage) DeleteFavorite(ctx context.Context, userName, key string) error {
	return s.del(ctx, favoriteKey(userName, key))
}

// ---------- 跳过片头片尾配置 ----------

func (s *UpstashStorage) GetSkipConfig(ctx context.Context, userName, key string) (*model.SkipConfig, error) {
	var cfg model.SkipConfig
	ok, err := s.getJSON(ctx, skipConfigKey(userName, key), &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *UpstashStorage) SetSkipConfig(ctx context.Context, userName, key string, cfg *model.SkipConfig) error {
	return s.setJSON(ctx, skipConfigKey(userName, key), cfg)
}

func (s *UpstashStorage) GetAllSkipConfigs(ctx context.Context, userName string) (map[string]*model.SkipConfig, error) {
	return getAllByPrefix[model.SkipConfig](ctx, s, skipConfigPrefix(userName))
}

func (s *UpstashStorage) DeleteSkipConfig(ctx context.Context, userName, key string) error {
	return s.del(ctx, skipConfigKey(userName, key))
}

// getAllByPrefix 先枚举键再并发取值
// 两步之间键被删除时按缺失处理，不作为错误
func getAllByPrefix[T any](ctx context.Context, s *UpstashStorage, prefix string) (map[string]*T, error) {
	fullKeys, err := s.keys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[string]*T, len(fullKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(getAllConcurrency)
	for _, fullKey := range fullKeys {
		fullKey := fullKey
		g.Go(func() error {
			var value T
			ok, err := s.getJSON(gctx, fullKey, &value)
			if err != nil {
				if isCorrupt(err) {
					log.Printf("跳过损坏的记录: %v", err)
					return nil
				}
				return err
			}
			if ok {
				mu.Lock()
				result[extractCompositeKey(fullKey, prefix)] = &value
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

// ---------- 搜索历史 ----------

func (s *UpstashStorage) GetSearchHistory(ctx context.Context, userName string) ([]string, error) {
	var raw json.RawMessage
	err := withRetry(ctx, func() error {
		var e error
		raw, e = s.client.do(ctx, "LRANGE", searchHistoryKey(userName), 0, -1)
		return e
	})
	if err != nil {
		return nil, err
	}
	var result []string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("解析 LRANGE 响应失败: %w", err)
	}
	if result == nil {
		result = []string{}
	}
	return result, nil
}

func (s *UpstashStorage) AddSearchHistory(ctx context.Context, userName, keyword string) error {
	key := searchHistoryKey(userName)
	// 先去重，再插入队首，最后截断；三步非原子，竞态按接受处理
	if err := withRetry(ctx, func() error {
		_, e := s.client.do(ctx, "LREM", key, 0, keyword)
		return e
	}); err != nil {
		return err
	}
	if err := withRetry(ctx, func() error {
		_, e := s.client.do(ctx, "LPUSH", key, keyword)
		return e
	}); err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		_, e := s.client.do(ctx, "LTRIM", key, 0, SearchHistoryLimit-1)
		return e
	})
}

func (s *UpstashStorage) DeleteSearchHistory(ctx context.Context, userName, keyword string) error {
	key := searchHistoryKey(userName)
	if keyword == "" {
		return s.del(ctx, key)
	}
	return withRetry(ctx, func() error {
		_, e := s.client.do(ctx, "LREM", key, 0, keyword)
		return e
	})
}

// ---------- 用户 ----------

func (s *UpstashStorage) RegisterUser(ctx context.Context, userName, password string) error {
	// 按原有数据格式存储明文，加密属产品层决策
	return s.setString(ctx, passwordKey(userName), password)
}

func (s *UpstashStorage) VerifyUser(ctx context.Context, userName, password string) (bool, error) {
	stored, ok, err := s.getString(ctx, passwordKey(userName))
	if err != nil || !ok {
		return false, err
	}
	return stored == password, nil
}

func (s *UpstashStorage) CheckUserExist(ctx context.Context, userName string) (bool, error) {
	var raw json.RawMessage
	err := withRetry(ctx, func() error {
		var e error
		raw, e = s.client.do(ctx, "EXISTS", passwordKey(userName))
		return e
	})
	if err != nil {
		return false, err
	}
	var exists int
	if err := json.Unmarshal(raw, &exists); err != nil {
		return false, fmt.Errorf("解析 EXISTS 响应失败: %w", err)
	}
	return exists == 1, nil
}

func (s *UpstashStorage) ChangePassword(ctx context.Context, userName, newPassword string) error {
	return s.setString(ctx, passwordKey(userName), newPassword)
}

func (s *UpstashStorage) DeleteUser(ctx context.Context, userName string) error {
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

func (s *UpstashStorage) GetAllUsers(ctx context.Context) ([]string, error) {
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

func (s *UpstashStorage) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	var cfg model.AdminConfig
	ok, err := s.getJSON(ctx, adminConfigKey, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *UpstashStorage) SetAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	return s.setJSON(ctx, adminConfigKey, cfg)
}

func (s *UpstashStorage) DeleteAdminConfig(ctx context.Context) error {
	return s.del(ctx, adminConfigKey)
}

// ---------- 新版分离存储 ----------

func (s *UpstashStorage) GetSiteConfig(ctx context.Context) (*model.SiteConfig, error) {
	var cfg model.SiteConfig
	ok, err := s.getJSON(ctx, siteConfigKey, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *UpstashStorage) SetSiteConfig(ctx context.Context, cfg *model.SiteConfig) error {
	return s.setJSON(ctx, siteConfigKey, cfg)
}

func (s *UpstashStorage) GetSourceConfig(ctx context.Context) ([]model.SourceItem, error) {
	var sources []model.SourceItem
	ok, err := s.getJSON(ctx, sourceConfigKey, &sources)
	if err != nil || !ok {
		return nil, err
	}
	return sources, nil
}

func (s *UpstashStorage) SetSourceConfig(ctx context.Context, sources []model.SourceItem) error {
	return s.setJSON(ctx, sourceConfigKey, sources)
}

func (s *UpstashStorage) GetCustomCategories(ctx context.Context) ([]model.CustomCategory, error) {
	var categories []model.CustomCategory
	ok, err := s.getJSON(ctx, categoriesKey, &categories)
	if err != nil || !ok {
		return nil, err
	}
	return categories, nil
}

func (s *UpstashStorage) SetCustomCategories(ctx context.Context, categories []model.CustomCategory) error {
	return s.setJSON(ctx, categoriesKey, categories)
}

func (s *UpstashStorage) GetAllowRegister(ctx context.Context) (bool, error) {
	val, ok, err := s.getString(ctx, allowRegisterKey)
	if err != nil || !ok {
		return false, err
	}
	return val == "true", nil
}

func (s *UpstashStorage) SetAllowRegister(ctx context.Context, allow bool) error {
	return s.setString(ctx, allowRegisterKey, strconv.FormatBool(allow))
}

func (s *UpstashStorage) GetUserRole(ctx context.Context, userName string) (string, error) {
	val, ok, err := s.getString(ctx, userRoleKey(userName))
	if err != nil || !ok {
		return "", err
	}
	if val != model.RoleOwner && val != model.RoleAdmin && val != model.RoleUser {
		return "", nil
	}
	return val, nil
}

func (s *UpstashStorage) SetUserRole(ctx context.Context, userName, role string) error {
	return s.setString(ctx, userRoleKey(userName), role)
}

func (s *UpstashStorage) DeleteUserRole(ctx context.Context, userName string) error {
	return s.del(ctx, userRoleKey(userName))
}

func (s *UpstashStorage) GetUserBanned(ctx context.Context, userName string) (bool, error) {
	val, ok, err := s.getString(ctx, userBannedKey(userName))
	if err != nil || !ok {
		return false, err
	}
	return val == "true", nil
}

func (s *UpstashStorage) SetUserBanned(ctx context.Context, userName string, banned bool) error {
	if banned {
		return s.setString(ctx, userBannedKey(userName), "true")
	}
	return s.del(ctx, userBannedKey(userName))
}

func (s *UpstashStorage) GetAllUsersWithRoles(ctx context.Context) ([]model.UserEntry, error) {
	return collectUsersWithRoles(ctx, s)
}
