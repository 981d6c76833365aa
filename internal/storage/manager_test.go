package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/user/moontv/internal/model"
)

func TestManagerCompositeKeyComposition(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()
	m := NewManager(mem)

	record := &model.PlayRecord{Title: "测试"}
	if err := m.SavePlayRecord(ctx, "alice", "src", "42", record); err != nil {
		t.Fatalf("SavePlayRecord: %v", err)
	}

	// 门面按 source+id 拼键，底层应能用组合键直接读到
	got, err := mem.GetPlayRecord(ctx, "alice", "src+42")
	if err != nil || got == nil {
		t.Fatalf("底层读取 = %v, %v", got, err)
	}

	got, err = m.GetPlayRecord(ctx, "alice", "src", "42")
	if err != nil || got == nil || got.Title != "测试" {
		t.Fatalf("GetPlayRecord = %v, %v", got, err)
	}

	if err := m.DeletePlayRecord(ctx, "alice", "src", "42"); err != nil {
		t.Fatalf("DeletePlayRecord: %v", err)
	}
	got, _ = m.GetPlayRecord(ctx, "alice", "src", "42")
	if got != nil {
		t.Fatal("删除后仍能读到记录")
	}
}

func TestManagerIsFavorited(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStorage())

	ok, err := m.IsFavorited(ctx, "alice", "src", "1")
	if err != nil || ok {
		t.Fatalf("未收藏时 IsFavorited = %v, %v", ok, err)
	}

	if err := m.SaveFavorite(ctx, "alice", "src", "1", &model.Favorite{Title: "a"}); err != nil {
		t.Fatalf("SaveFavorite: %v", err)
	}
	ok, err = m.IsFavorited(ctx, "alice", "src", "1")
	if err != nil || !ok {
		t.Fatalf("已收藏时 IsFavorited = %v, %v", ok, err)
	}

	if err := m.DeleteFavorite(ctx, "alice", "src", "1"); err != nil {
		t.Fatalf("DeleteFavorite: %v", err)
	}
	ok, _ = m.IsFavorited(ctx, "alice", "src", "1")
	if ok {
		t.Fatal("删除后仍显示已收藏")
	}
}

// limitedStorage 在内存后端之上模拟不支持部分能力的后端
type limitedStorage struct {
	Storage
}

func (s *limitedStorage) GetAllPlayRecords(context.Context, string) (map[string]*model.PlayRecord, error) {
	return nil, ErrNotSupported
}

func (s *limitedStorage) GetSkipConfig(context.Context, string, string) (*model.SkipConfig, error) {
	return nil, ErrNotSupported
}

func (s *limitedStorage) SetSkipConfig(context.Context, string, string, *model.SkipConfig) error {
	return ErrNotSupported
}

func (s *limitedStorage) GetAllSkipConfigs(context.Context, string) (map[string]*model.SkipConfig, error) {
	return nil, ErrNotSupported
}

func (s *limitedStorage) GetAllowRegister(context.Context) (bool, error) {
	return false, ErrNotSupported
}

func (s *limitedStorage) GetAllUsersWithRoles(context.Context) ([]model.UserEntry, error) {
	return nil, ErrNotSupported
}

func (s *limitedStorage) GetSourceConfig(context.Context) ([]model.SourceItem, error) {
	return nil, ErrNotSupported
}

func (s *limitedStorage) GetCustomCategories(context.Context) ([]model.CustomCategory, error) {
	return nil, ErrNotSupported
}

func TestManagerNotSupportedFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	m := NewManager(&limitedStorage{Storage: NewMemoryStorage()})

	records, err := m.GetAllPlayRecords(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAllPlayRecords: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("应返回空 map，得到 %v", records)
	}

	cfg, err := m.GetSkipConfig(ctx, "alice", "src", "1")
	if err != nil || cfg != nil {
		t.Fatalf("GetSkipConfig = %v, %v", cfg, err)
	}
	if err := m.SetSkipConfig(ctx, "alice", "src", "1", &model.SkipConfig{}); err != nil {
		t.Fatalf("SetSkipConfig 应静默成功: %v", err)
	}
	configs, err := m.GetAllSkipConfigs(ctx, "alice")
	if err != nil || configs == nil {
		t.Fatalf("GetAllSkipConfigs = %v, %v", configs, err)
	}

	allow, err := m.GetAllowRegister(ctx)
	if err != nil || allow {
		t.Fatalf("GetAllowRegister = %v, %v", allow, err)
	}

	entries, err := m.GetAllUsersWithRoles(ctx)
	if err != nil || entries == nil {
		t.Fatalf("GetAllUsersWithRoles = %v, %v", entries, err)
	}

	// 列表默认值为空切片而非 nil，序列化后是 [] 而不是 null
	sources, err := m.GetSourceConfig(ctx)
	if err != nil || sources == nil || len(sources) != 0 {
		t.Fatalf("GetSourceConfig = %v, %v", sources, err)
	}
	categories, err := m.GetCustomCategories(ctx)
	if err != nil || categories == nil || len(categories) != 0 {
		t.Fatalf("GetCustomCategories = %v, %v", categories, err)
	}
}

// corruptReadStorage 读单条记录时返回损坏错误
type corruptReadStorage struct {
	Storage
}

func (s *corruptReadStorage) GetFavorite(context.Context, string, string) (*model.Favorite, error) {
	return nil, fmt.Errorf("%w: 无法解析 JSON", ErrCorruptRecord)
}

func TestManagerAbsorbsCorruptRecordOnRead(t *testing.T) {
	ctx := context.Background()
	m := NewManager(&corruptReadStorage{Storage: NewMemoryStorage()})

	// 损坏记录按不存在处理而不是报错
	fav, err := m.GetFavorite(ctx, "alice", "src", "1")
	if err != nil {
		t.Fatalf("GetFavorite: %v", err)
	}
	if fav != nil {
		t.Fatalf("损坏记录应按缺失处理，得到 %+v", fav)
	}

	ok, err := m.IsFavorited(ctx, "alice", "src", "1")
	if err != nil || ok {
		t.Fatalf("IsFavorited = %v, %v", ok, err)
	}
}

func TestManagerSetUserRoleNormalizesDefault(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()
	m := NewManager(mem)

	if err := m.SetUserRole(ctx, "alice", model.RoleAdmin); err != nil {
		t.Fatalf("SetUserRole(admin): %v", err)
	}
	role, err := m.GetUserRole(ctx, "alice")
	if err != nil || role != model.RoleAdmin {
		t.Fatalf("GetUserRole = %q, %v", role, err)
	}

	// 降回默认角色时应删除记录而不是写入 user
	if err := m.SetUserRole(ctx, "alice", model.RoleUser); err != nil {
		t.Fatalf("SetUserRole(user): %v", err)
	}
	role, err = m.GetUserRole(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserRole: %v", err)
	}
	if role != "" {
		t.Errorf("角色记录应被删除，得到 %q", role)
	}
	if got, _ := mem.GetUserRole(ctx, "alice"); got != "" {
		t.Errorf("底层仍残留角色 %q", got)
	}
}

func TestManagerMigrationDelegation(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStorage())

	_ = m.SaveAdminConfig(ctx, legacyConfigFixture())

	migrated, err := m.MigrateFromLegacy(ctx)
	if err != nil || !migrated {
		t.Fatalf("MigrateFromLegacy = %v, %v", migrated, err)
	}

	cfg, err := m.GetAdminConfigFromSeparated(ctx)
	if err != nil || cfg == nil {
		t.Fatalf("GetAdminConfigFromSeparated = %v, %v", cfg, err)
	}
	if cfg.SiteConfig.SiteName != "MoonTV" {
		t.Errorf("SiteName = %q", cfg.SiteConfig.SiteName)
	}
}
