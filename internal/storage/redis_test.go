package storage

import "testing"

func TestRedisClientSingletonReset(t *testing.T) {
	ResetInstance()
	t.Cleanup(ResetInstance)

	if _, err := NewRedisStorage("not-a-valid-url"); err == nil {
		t.Fatal("非法 REDIS_URL 应返回错误")
	}

	// 不重置时错误被单例缓存，合法 URL 也拿不到客户端
	if _, err := NewRedisStorage("redis://localhost:6379/0"); err == nil {
		t.Fatal("单例未重置时应返回缓存的错误")
	}

	// 重置后可以注入新的客户端（仅解析 URL，不建立连接）
	ResetInstance()
	s, err := NewRedisStorage("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("重置后创建失败: %v", err)
	}
	if s == nil || s.client == nil {
		t.Fatal("客户端未创建")
	}
}
