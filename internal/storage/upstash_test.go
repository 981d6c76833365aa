package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/user/moontv/internal/model"
)

// fakeUpstash 模拟 Upstash REST 协议：POST 一个 JSON 命令数组，
// 返回 {"result": ...} 或 {"error": ...}
type fakeUpstash struct {
	mu      sync.Mutex
	strings map[string]string
	lists   map[string][]string

	failures  int // 返回 500 的剩余次数
	requests  int
	lastToken string
}

func newFakeUpstash() *fakeUpstash {
	return &fakeUpstash{
		strings: make(map[string]string),
		lists:   make(map[string][]string),
	}
}

func (f *fakeUpstash) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests++
	f.lastToken = r.Header.Get("Authorization")

	if f.failures > 0 {
		f.failures--
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}

	var command []interface{}
	if err := json.NewDecoder(r.Body).Decode(&command); err != nil || len(command) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad command"})
		return
	}

	name, _ := command[0].(string)
	args := command[1:]
	result := f.execute(strings.ToUpper(name), args)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
}

func (f *fakeUpstash) execute(name string, args []interface{}) interface{} {
	str := func(i int) string {
		s, _ := args[i].(string)
		return s
	}
	num := func(i int) int {
		switch v := args[i].(type) {
		case float64:
			return int(v)
		case string:
			n := 0
			_ = json.Unmarshal([]byte(v), &n)
			return n
		}
		return 0
	}

	switch name {
	case "GET":
		if val, ok := f.strings[str(0)]; ok {
			return val
		}
		return nil
	case "SET":
		f.strings[str(0)] = str(1)
		return "OK"
	case "DEL":
		deleted := 0
		for i := range args {
			key := str(i)
			if _, ok := f.strings[key]; ok {
				delete(f.strings, key)
				deleted++
			}
			if _, ok := f.lists[key]; ok {
				delete(f.lists, key)
				deleted++
			}
		}
		return deleted
	case "EXISTS":
		if _, ok := f.strings[str(0)]; ok {
			return 1
		}
		return 0
	case "KEYS":
		return f.matchKeys(str(0))
	case "LRANGE":
		list := f.lists[str(0)]
		start, stop := num(1), num(2)
		if stop == -1 || stop >= len(list)-1 {
			stop = len(list) - 1
		}
		if start > stop {
			return []string{}
		}
		return list[start : stop+1]
	case "LPUSH":
		key := str(0)
		f.lists[key] = append([]string{str(1)}, f.lists[key]...)
		return len(f.lists[key])
	case "LREM":
		key, target := str(0), str(2)
		kept := f.lists[key][:0]
		removed := 0
		for _, v := range f.lists[key] {
			if v == target {
				removed++
				continue
			}
			kept = append(kept, v)
		}
		f.lists[key] = kept
		return removed
	case "LTRIM":
		key := str(0)
		start, stop := num(1), num(2)
		list := f.lists[key]
		if stop >= len(list)-1 {
			stop = len(list) - 1
		}
		if start > stop {
			f.lists[key] = nil
		} else {
			f.lists[key] = list[start : stop+1]
		}
		return "OK"
	}
	return nil
}

// matchKeys 仅支持测试所需的单个 * 通配
func (f *fakeUpstash) matchKeys(pattern string) []string {
	prefix, suffix, _ := strings.Cut(pattern, "*")
	matched := []string{}
	for key := range f.strings {
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) {
			matched = append(matched, key)
		}
	}
	return matched
}

func newTestUpstash(t *testing.T) (*UpstashStorage, *fakeUpstash) {
	t.Helper()
	fake := newFakeUpstash()
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(server.Close)

	s, err := NewUpstashStorage(server.URL, "test-token")
	if err != nil {
		t.Fatalf("NewUpstashStorage: %v", err)
	}
	return s, fake
}

func TestNewUpstashStorageRequiresCredentials(t *testing.T) {
	if _, err := NewUpstashStorage("", "token"); err == nil {
		t.Error("缺少 URL 应报错")
	}
	if _, err := NewUpstashStorage("http://example.com", ""); err == nil {
		t.Error("缺少 token 应报错")
	}
}

func TestUpstashSendsBearerToken(t *testing.T) {
	s, fake := newTestUpstash(t)

	_ = s.SetPlayRecord(context.Background(), "alice", "src+1", &model.PlayRecord{Title: "a"})
	if fake.lastToken != "Bearer test-token" {
		t.Errorf("Authorization = %q", fake.lastToken)
	}
}

func TestUpstashPlayRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestUpstash(t)

	record := &model.PlayRecord{Title: "测试", PlayTime: 120, TotalTime: 3600}
	if err := s.SetPlayRecord(ctx, "alice", "src+1", record); err != nil {
		t.Fatalf("SetPlayRecord: %v", err)
	}

	got, err := s.GetPlayRecord(ctx, "alice", "src+1")
	if err != nil {
		t.Fatalf("GetPlayRecord: %v", err)
	}
	if got == nil || got.Title != "测试" || got.PlayTime != 120 {
		t.Fatalf("GetPlayRecord = %+v", got)
	}

	missing, err := s.GetPlayRecord(ctx, "alice", "src+2")
	if err != nil || missing != nil {
		t.Fatalf("缺失键应返回 nil, nil，得到 %v, %v", missing, err)
	}

	all, err := s.GetAllPlayRecords(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAllPlayRecords: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	if _, ok := all["src+1"]; !ok {
		t.Fatalf("缺少组合键 src+1，实际：%v", keysOf(all))
	}

	if err := s.DeletePlayRecord(ctx, "alice", "src+1"); err != nil {
		t.Fatalf("DeletePlayRecord: %v", err)
	}
	got, _ = s.GetPlayRecord(ctx, "alice", "src+1")
	if got != nil {
		t.Fatal("删除后仍能读到记录")
	}
}

func TestUpstashGetAllSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestUpstash(t)

	_ = s.SetFavorite(ctx, "alice", "src+1", &model.Favorite{Title: "好的"})
	fake.mu.Lock()
	fake.strings[favoriteKey("alice", "src+2")] = "{坏掉的json"
	fake.mu.Unlock()

	all, err := s.GetAllFavorites(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAllFavorites: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1（损坏记录应被跳过）", len(all))
	}
	if all["src+1"].Title != "好的" {
		t.Errorf("Title = %q", all["src+1"].Title)
	}
}

func TestUpstashSearchHistory(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestUpstash(t)

	for _, kw := range []string{"甲", "乙", "丙", "乙"} {
		if err := s.AddSearchHistory(ctx, "alice", kw); err != nil {
			t.Fatalf("AddSearchHistory(%q): %v", kw, err)
		}
	}

	history, err := s.GetSearchHistory(ctx, "alice")
	if err != nil {
		t.Fatalf("GetSearchHistory: %v", err)
	}
	// 重复的"乙"被去重并提升到最前
	assertStringSlice(t, history, []string{"乙", "丙", "甲"})

	if err := s.DeleteSearchHistory(ctx, "alice", "丙"); err != nil {
		t.Fatalf("DeleteSearchHistory: %v", err)
	}
	history, _ = s.GetSearchHistory(ctx, "alice")
	assertStringSlice(t, history, []string{"乙", "甲"})

	if err := s.DeleteSearchHistory(ctx, "alice", ""); err != nil {
		t.Fatalf("清空: %v", err)
	}
	history, _ = s.GetSearchHistory(ctx, "alice")
	if len(history) != 0 {
		t.Fatalf("清空后仍有 %d 条", len(history))
	}
}

func TestUpstashUserOps(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestUpstash(t)

	exists, err := s.CheckUserExist(ctx, "alice")
	if err != nil || exists {
		t.Fatalf("CheckUserExist = %v, %v", exists, err)
	}

	if err := s.RegisterUser(ctx, "alice", "secret"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	exists, _ = s.CheckUserExist(ctx, "alice")
	if !exists {
		t.Fatal("注册后用户不存在")
	}

	ok, err := s.VerifyUser(ctx, "alice", "secret")
	if err != nil || !ok {
		t.Fatalf("VerifyUser = %v, %v", ok, err)
	}
	ok, _ = s.VerifyUser(ctx, "alice", "wrong")
	if ok {
		t.Fatal("错误密码不应通过")
	}

	users, err := s.GetAllUsers(ctx)
	if err != nil || len(users) != 1 || users[0] != "alice" {
		t.Fatalf("GetAllUsers = %v, %v", users, err)
	}

	_ = s.SetUserRole(ctx, "alice", model.RoleAdmin)
	role, _ := s.GetUserRole(ctx, "alice")
	if role != model.RoleAdmin {
		t.Errorf("角色 = %q", role)
	}

	_ = s.SetUserBanned(ctx, "alice", true)
	banned, _ := s.GetUserBanned(ctx, "alice")
	if !banned {
		t.Error("封禁未生效")
	}
	_ = s.SetUserBanned(ctx, "alice", false)
	banned, _ = s.GetUserBanned(ctx, "alice")
	if banned {
		t.Error("解禁未生效")
	}

	_ = s.SetPlayRecord(ctx, "alice", "src+1", &model.PlayRecord{Title: "a"})
	if err := s.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	exists, _ = s.CheckUserExist(ctx, "alice")
	if exists {
		t.Error("用户未删除")
	}
	records, _ := s.GetAllPlayRecords(ctx, "alice")
	if len(records) != 0 {
		t.Error("播放记录未级联删除")
	}
}

func TestUpstashAllowRegisterFormat(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestUpstash(t)

	allow, err := s.GetAllowRegister(ctx)
	if err != nil || allow {
		t.Fatalf("缺省 = %v, %v", allow, err)
	}

	if err := s.SetAllowRegister(ctx, true); err != nil {
		t.Fatalf("SetAllowRegister: %v", err)
	}
	fake.mu.Lock()
	stored := fake.strings[allowRegisterKey]
	fake.mu.Unlock()
	// 存储值固定为字符串 "true"/"false"，与既有数据兼容
	if stored != "true" {
		t.Errorf("存储值 = %q", stored)
	}

	allow, _ = s.GetAllowRegister(ctx)
	if !allow {
		t.Error("GetAllowRegister = false")
	}
}

func TestUpstashRetriesServerErrors(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestUpstash(t)

	fake.mu.Lock()
	fake.failures = 2
	fake.mu.Unlock()

	// 前两次 500 触发重试，第三次成功
	if err := s.SetSiteConfig(ctx, &model.SiteConfig{SiteName: "MoonTV"}); err != nil {
		t.Fatalf("SetSiteConfig: %v", err)
	}

	cfg, err := s.GetSiteConfig(ctx)
	if err != nil || cfg == nil || cfg.SiteName != "MoonTV" {
		t.Fatalf("GetSiteConfig = %v, %v", cfg, err)
	}
}
