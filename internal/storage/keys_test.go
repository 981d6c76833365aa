package storage

import "testing"

// TestGenerateStorageKey 组合键必须逐字节稳定，否则历史数据无法定位
func TestGenerateStorageKey(t *testing.T) {
	cases := []struct {
		source, id, want string
	}{
		{"dyttzy", "12345", "dyttzy+12345"},
		{"ok", "tt0111161", "ok+tt0111161"},
		{"", "123", "+123"},
	}
	for _, tc := range cases {
		if got := GenerateStorageKey(tc.source, tc.id); got != tc.want {
			t.Errorf("GenerateStorageKey(%q, %q) = %q, want %q", tc.source, tc.id, got, tc.want)
		}
	}
}

func TestPhysicalKeyFormats(t *testing.T) {
	cases := []struct {
		name, got, want string
	}{
		{"playRecord", playRecordKey("alice", "src+1"), "u:alice:pr:src+1"},
		{"favorite", favoriteKey("alice", "src+1"), "u:alice:fav:src+1"},
		{"skipConfig", skipConfigKey("alice", "src+1"), "u:alice:skip:src+1"},
		{"searchHistory", searchHistoryKey("alice"), "u:alice:sh"},
		{"password", passwordKey("alice"), "u:alice:pwd"},
		{"role", userRoleKey("alice"), "u:alice:role"},
		{"banned", userBannedKey("alice"), "u:alice:banned"},
		{"playRecordPrefix", playRecordPrefix("alice"), "u:alice:pr:"},
		{"favoritePrefix", favoritePrefix("alice"), "u:alice:fav:"},
		{"skipConfigPrefix", skipConfigPrefix("alice"), "u:alice:skip:"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s key = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestSingletonKeys(t *testing.T) {
	if adminConfigKey != "admin:config" {
		t.Errorf("adminConfigKey = %q", adminConfigKey)
	}
	if siteConfigKey != "site:config" {
		t.Errorf("siteConfigKey = %q", siteConfigKey)
	}
	if sourceConfigKey != "site:sources" {
		t.Errorf("sourceConfigKey = %q", sourceConfigKey)
	}
	if categoriesKey != "site:categories" {
		t.Errorf("categoriesKey = %q", categoriesKey)
	}
	if allowRegisterKey != "site:allow_register" {
		t.Errorf("allowRegisterKey = %q", allowRegisterKey)
	}
}

func TestExtractCompositeKey(t *testing.T) {
	got := extractCompositeKey("u:alice:pr:src+1", playRecordPrefix("alice"))
	if got != "src+1" {
		t.Errorf("extractCompositeKey = %q, want %q", got, "src+1")
	}
}

func TestUsernameFromPasswordKey(t *testing.T) {
	cases := []struct {
		fullKey, want string
	}{
		{"u:alice:pwd", "alice"},
		{"u:alice:role", ""},
		{"admin:config", ""},
		{"u::pwd", ""},
	}
	for _, tc := range cases {
		if got := usernameFromPasswordKey(tc.fullKey); got != tc.want {
			t.Errorf("usernameFromPasswordKey(%q) = %q, want %q", tc.fullKey, got, tc.want)
		}
	}
}
