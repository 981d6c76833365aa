package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/user/moontv/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 关系型后端没有前缀扫描，(username, record_key) 唯一索引充当等价的二级索引

type playRecordRow struct {
	ID            uint   `gorm:"primaryKey"`
	Username      string `gorm:"size:255;uniqueIndex:idx_play_user_key"`
	RecordKey     string `gorm:"size:512;uniqueIndex:idx_play_user_key"`
	Title         string
	SourceName    string
	Year          string
	Cover         string
	EpisodeIndex  int
	TotalEpisodes int
	PlayTime      int
	TotalTime     int
	SaveTime      int64
	SearchTitle   string
}

func (playRecordRow) TableName() string { return "play_records" }

type favoriteRow struct {
	ID            uint   `gorm:"primaryKey"`
	Username      string `gorm:"size:255;uniqueIndex:idx_fav_user_key"`
	RecordKey     string `gorm:"size:512;uniqueIndex:idx_fav_user_key"`
	Title         string
	SourceName    string
	Year          string
	Cover         string
	TotalEpisodes int
	SaveTime      int64
	SearchTitle   string
}

func (favoriteRow) TableName() string { return "favorites" }

type skipConfigRow struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:255;uniqueIndex:idx_skip_user_key"`
	RecordKey string `gorm:"size:512;uniqueIndex:idx_skip_user_key"`
	Enable    bool
	IntroTime int
	OutroTime int
}

func (skipConfigRow) TableName() string { return "skip_configs" }

type searchHistoryRow struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:255;uniqueIndex:idx_sh_user_keyword"`
	Keyword   string `gorm:"size:255;uniqueIndex:idx_sh_user_keyword"`
	CreatedAt int64  `gorm:"index"`
}

func (searchHistoryRow) TableName() string { return "search_histories" }

type userRow struct {
	Username string `gorm:"primaryKey;size:255"`
	Password string
}

func (userRow) TableName() string { return "users" }

type userRoleRow struct {
	Username string `gorm:"primaryKey;size:255"`
	Role     string `gorm:"size:16"`
}

func (userRoleRow) TableName() string { return "user_roles" }

type userBanRow struct {
	Username string `gorm:"primaryKey;size:255"`
}

func (userBanRow) TableName() string { return "user_bans" }

// configRow 单例配置，config_key 即键命名方案中的物理键
type configRow struct {
	ConfigKey string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text"`
}

func (configRow) TableName() string { return "config_entries" }

// PostgresStorage 关系型后端
type PostgresStorage struct {
	db *gorm.DB
}

// NewPostgresStorage 连接数据库并建表
func NewPostgresStorage(databaseURL string) (*PostgresStorage, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 设置连接池
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("初始化 ORM 失败: %w", err)
	}

	if err := db.AutoMigrate(
		&playRecordRow{}, &favoriteRow{}, &skipConfigRow{}, &searchHistoryRow{},
		&userRow{}, &userRoleRow{}, &userBanRow{}, &configRow{},
	); err != nil {
		return nil, fmt.Errorf("建表失败: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

// ---------- 播放记录 ----------

func (s *PostgresStorage) GetPlayRecord(ctx context.Context, userName, key string) (*model.PlayRecord, error) {
	var row playRecordRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("username = ? AND record_key = ?", userName, key).
			First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return playRecordFromRow(&row), nil
}

func (s *PostgresStorage) SetPlayRecord(ctx context.Context, userName, key string, record *model.PlayRecord) error {
	row := playRecordRow{
		Username:      userName,
		RecordKey:     key,
		Title:         record.Title,
		SourceName:    record.SourceName,
		Year:          record.Year,
		Cover:         record.Cover,
		EpisodeIndex:  record.Index,
		TotalEpisodes: record.TotalEpisodes,
		PlayTime:      record.PlayTime,
		TotalTime:     record.TotalTime,
		SaveTime:      record.SaveTime,
		SearchTitle:   record.SearchTitle,
	}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "username"}, {Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "source_name", "year", "cover", "episode_index",
				"total_episodes", "play_time", "total_time", "save_time", "search_title",
			}),
		}).Create(&row).Error
	})
}

func (s *PostgresStorage) GetAllPlayRecords(ctx context.Context, userName string) (map[string]*model.PlayRecord, error) {
	var rows []playRecordRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("username = ?", userName).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	result := make(map[string]*model.PlayRecord, len(rows))
	for i := range rows {
		result[rows[i].RecordKey] = playRecordFromRow(&rows[i])
	}
	return result, nil
}

func (s *PostgresStorage) DeletePlayRecord(ctx context.Context, userName, key string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("username = ? AND record_key = ?", userName, key).
			Delete(&playRecordRow{}).Error
	})
}

func playRecordFromRow(row *playRecordRow) *model.PlayRecord {
	return &model.PlayRecord{
		Title:         row.Title,
		SourceName:    row.SourceName,
		Year:          row.Year,
		Cover:         row.Cover,
		Index:         row.EpisodeIndex,
		TotalEpisodes: row.TotalEpisodes,
		PlayTime:      row.PlayTime,
		TotalTime:     row.TotalTime,
		SaveTime:      row.SaveTime,
		SearchTitle:   row.SearchTitle,
	}
}

// ---------- 收藏 ----------

func (s *PostgresStorage) GetFavorite(ctx context.Context, userName, key string) (*model.Favorite, error) {
	var row favoriteRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("username = ? AND record_key = ?", userName, key).
			First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return favoriteFromRow(&row), nil
}

func (s *PostgresStorage) SetFavorite(ctx context.Context, userName, key string, favorite *model.Favorite) error {
	row := favoriteRow{
		Username:      userName,
		RecordKey:     key,
		Title:         favorite.Title,
		SourceName:    favorite.SourceName,
		Year:          favorite.Year,
		Cover:         favorite.Cover,
		TotalEpisodes: favorite.TotalEpisodes,
		SaveTime:      favorite.SaveTime,
		SearchTitle:   favorite.SearchTitle,
	}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "username"}, {Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "source_name", "year", "cover", "total_episodes", "save_time", "search_title",
			}),
		}).Create(&row).Error
	})
}

func (s *PostgresStorage) GetAllFavorites(ctx context.Context, userName string) (map[string]*model.Favorite, error) {
	var rows []favoriteRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("username = ?", userName).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	result := make(map[string]*model.Favorite, len(rows))
	for i := range rows {
		result[rows[i].RecordKey] = favoriteFromRow(&rows[i])
	}
	return result, nil
}

func (s *PostgresStorage) DeleteFavorite(ctx context.Context, userName, key string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("username = ? AND record_key = ?", userName, key).
			Delete(&favoriteRow{}).Error
	})
}

func favoriteFromRow(row *favoriteRow) *model.Favorite {
	return &model.Favorite{
		Title:         row.Title,
		SourceName:    row.SourceName,
		Year:          row.Year,
		Cover:         row.Cover,
		TotalEpisodes: row.TotalEpisodes,
		SaveTime:      row.SaveTime,
		SearchTitle:   row.SearchTitle,
	}
}

// ---------- 跳过片头片尾配置 ----------

func (s *PostgresStorage) GetSkipConfig(ctx context.Context, userName, key string) (*model.SkipConfig, error) {
	var row skipConfigRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("username = ? AND record_key = ?", userName, key).
			First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.SkipConfig{Enable: row.Enable, IntroTime: row.IntroTime, OutroTime: row.OutroTime}, nil
}

func (s *PostgresStorage) SetSkipConfig(ctx context.Context, userName, key string, cfg *model.SkipConfig) error {
	row := skipConfigRow{
		Username:  userName,
		RecordKey: key,
		Enable:    cfg.Enable,
		IntroTime: cfg.IntroTime,
		OutroTime: cfg.OutroTime,
	}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}, {Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"enable", "intro_time", "outro_time"}),
		}).Create(&row).Error
	})
}

func (s *PostgresStorage) GetAllSkipConfigs(ctx context.Context, userName string) (map[string]*model.SkipConfig, error) {
	var rows []skipConfigRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("username = ?", userName).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	result := make(map[string]*model.SkipConfig, len(rows))
	for _, row := range rows {
		result[row.RecordKey] = &model.SkipConfig{
			Enable:    row.Enable,
			IntroTime: row.IntroTime,
			OutroTime: row.OutroTime,
		}
	}
	return result, nil
}

func (s *PostgresStorage) DeleteSkipConfig(ctx context.Context, userName, key string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("username = ? AND record_key = ?", userName, key).
			Delete(&skipConfigRow{}).Error
	})
}

// ---------- 搜索历史 ----------

func (s *PostgresStorage) GetSearchHistory(ctx context.Context, userName string) ([]string, error) {
	var keywords []string
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&searchHistoryRow{}).
			Where("username = ?", userName).
			Order("created_at DESC, id DESC").
			Limit(SearchHistoryLimit).
			Pluck("keyword", &keywords).Error
	})
	if err != nil {
		return nil, err
	}
	if keywords == nil {
		keywords = []string{}
	}
	return keywords, nil
}

func (s *PostgresStorage) AddSearchHistory(ctx context.Context, userName, keyword string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row := searchHistoryRow{
				Username:  userName,
				Keyword:   keyword,
				CreatedAt: time.Now().UnixMilli(),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "username"}, {Name: "keyword"}},
				DoUpdates: clause.AssignmentColumns([]string{"created_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
			// 截断到上限，淘汰最旧的记录
			return tx.Exec(`
				DELETE FROM search_histories
				WHERE username = ? AND id NOT IN (
					SELECT id FROM search_histories
					WHERE username = ?
					ORDER BY created_at DESC, id DESC
					LIMIT ?
				)
			`, userName, userName, SearchHistoryLimit).Error
		})
	})
}

func (s *PostgresStorage) DeleteSearchHistory(ctx context.Context, userName, keyword string) error {
	return withRetry(ctx, func() error {
		q := s.db.WithContext(ctx).Where("username = ?", userName)
		if keyword != "" {
			q = q.Where("keyword = ?", keyword)
		}
		return q.Delete(&searchHistoryRow{}).Error
	})
}

// ---------- 用户 ----------

func (s *PostgresStorage) RegisterUser(ctx context.Context, userName, password string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&userRow{Username: userName, Password: password}).Error
	})
}

func (s *PostgresStorage) VerifyUser(ctx context.Context, userName, password string) (bool, error) {
	var row userRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("username = ?", userName).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.Password == password, nil
}

func (s *PostgresStorage) CheckUserExist(ctx context.Context, userName string) (bool, error) {
	var count int64
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&userRow{}).
			Where("username = ?", userName).Count(&count).Error
	})
	return count > 0, err
}

func (s *PostgresStorage) ChangePassword(ctx context.Context, userName, newPassword string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&userRow{}).
			Where("username = ?", userName).
			Update("password", newPassword).Error
	})
}

func (s *PostgresStorage) DeleteUser(ctx context.Context, userName string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, m := range []interface{}{
				&playRecordRow{}, &favoriteRow{}, &skipConfigRow{},
				&searchHistoryRow{}, &userRoleRow{}, &userBanRow{}, &userRow{},
			} {
				if err := tx.Where("username = ?", userName).Delete(m).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (s *PostgresStorage) GetAllUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&userRow{}).
			Order("username ASC").Pluck("username", &users).Error
	})
	return users, err
}

// ---------- 配置（单例 KV 行） ----------

func (s *PostgresStorage) getConfigValue(ctx context.Context, key string, target interface{}) (bool, error) {
	var row configRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("config_key = ?", key).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(row.Value), target); err != nil {
		return false, fmt.Errorf("%w: key=%s: %v", ErrCorruptRecord, key, err)
	}
	return true, nil
}

func (s *PostgresStorage) setConfigValue(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	row := configRow{ConfigKey: key, Value: string(data)}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&row).Error
	})
}

func (s *PostgresStorage) deleteConfigValue(ctx context.Context, key string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("config_key = ?", key).Delete(&configRow{}).Error
	})
}

func (s *PostgresStorage) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	var cfg model.AdminConfig
	ok, err := s.getConfigValue(ctx, adminConfigKey, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStorage) SetAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	return s.setConfigValue(ctx, adminConfigKey, cfg)
}

func (s *PostgresStorage) DeleteAdminConfig(ctx context.Context) error {
	return s.deleteConfigValue(ctx, adminConfigKey)
}

func (s *PostgresStorage) GetSiteConfig(ctx context.Context) (*model.SiteConfig, error) {
	var cfg model.SiteConfig
	ok, err := s.getConfigValue(ctx, siteConfigKey, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStorage) SetSiteConfig(ctx context.Context, cfg *model.SiteConfig) error {
	return s.setConfigValue(ctx, siteConfigKey, cfg)
}

func (s *PostgresStorage) GetSourceConfig(ctx context.Context) ([]model.SourceItem, error) {
	var sources []model.SourceItem
	ok, err := s.getConfigValue(ctx, sourceConfigKey, &sources)
	if err != nil || !ok {
		return nil, err
	}
	return sources, nil
}

func (s *PostgresStorage) SetSourceConfig(ctx context.Context, sources []model.SourceItem) error {
	return s.setConfigValue(ctx, sourceConfigKey, sources)
}

func (s *PostgresStorage) GetCustomCategories(ctx context.Context) ([]model.CustomCategory, error) {
	var categories []model.CustomCategory
	ok, err := s.getConfigValue(ctx, categoriesKey, &categories)
	if err != nil || !ok {
		return nil, err
	}
	return categories, nil
}

func (s *PostgresStorage) SetCustomCategories(ctx context.Context, categories []model.CustomCategory) error {
	return s.setConfigValue(ctx, categoriesKey, categories)
}

func (s *PostgresStorage) GetAllowRegister(ctx context.Context) (bool, error) {
	var allow bool
	ok, err := s.getConfigValue(ctx, allowRegisterKey, &allow)
	if err != nil || !ok {
		return false, err
	}
	return allow, nil
}

func (s *PostgresStorage) SetAllowRegister(ctx context.Context, allow bool) error {
	return s.setConfigValue(ctx, allowRegisterKey, allow)
}

// ---------- 角色与封禁 ----------

func (s *PostgresStorage) GetUserRole(ctx context.Context, userName string) (string, error) {
	var row userRoleRow
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("username = ?", userName).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Role, nil
}

func (s *PostgresStorage) SetUserRole(ctx context.Context, userName, role string) error {
	row := userRoleRow{Username: userName, Role: role}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"role"}),
		}).Create(&row).Error
	})
}

func (s *PostgresStorage) DeleteUserRole(ctx context.Context, userName string) error {
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("username = ?", userName).Delete(&userRoleRow{}).Error
	})
}

func (s *PostgresStorage) GetUserBanned(ctx context.Context, userName string) (bool, error) {
	var count int64
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&userBanRow{}).
			Where("username = ?", userName).Count(&count).Error
	})
	return count > 0, err
}

func (s *PostgresStorage) SetUserBanned(ctx context.Context, userName string, banned bool) error {
	if banned {
		return withRetry(ctx, func() error {
			return s.db.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&userBanRow{Username: userName}).Error
		})
	}
	return withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("username = ?", userName).Delete(&userBanRow{}).Error
	})
}

func (s *PostgresStorage) GetAllUsersWithRoles(ctx context.Context) ([]model.UserEntry, error) {
	return collectUsersWithRoles(ctx, s)
}
