package storage

import (
	"fmt"
	"strings"
)

// SearchHistoryLimit 搜索历史最大条数
const SearchHistoryLimit = 20

// GenerateStorageKey 生成 source+id 组合键
// 注意：source 或 id 自身含 "+" 时会产生歧义，为保持数据兼容按原样保留
func GenerateStorageKey(source, id string) string {
	return source + "+" + id
}

// 物理键格式，各后端必须逐字节一致以保证数据可迁移
func playRecordKey(userName, key string) string {
	return fmt.Sprintf("u:%s:pr:%s", userName, key)
}

func favoriteKey(userName, key string) string {
	return fmt.Sprintf("u:%s:fav:%s", userName, key)
}

func skipConfigKey(userName, key string) string {
	return fmt.Sprintf("u:%s:skip:%s", userName, key)
}

func searchHistoryKey(userName string) string {
	return fmt.Sprintf("u:%s:sh", userName)
}

func passwordKey(userName string) string {
	return fmt.Sprintf("u:%s:pwd", userName)
}

func userRoleKey(userName string) string {
	return fmt.Sprintf("u:%s:role", userName)
}

func userBannedKey(userName string) string {
	return fmt.Sprintf("u:%s:banned", userName)
}

const (
	adminConfigKey   = "admin:config"
	siteConfigKey    = "site:config"
	sourceConfigKey  = "site:sources"
	categoriesKey    = "site:categories"
	allowRegisterKey = "site:allow_register"
)

// playRecordPrefix 返回枚举某用户全部播放记录的键前缀
func playRecordPrefix(userName string) string {
	return fmt.Sprintf("u:%s:pr:", userName)
}

func favoritePrefix(userName string) string {
	return fmt.Sprintf("u:%s:fav:", userName)
}

func skipConfigPrefix(userName string) string {
	return fmt.Sprintf("u:%s:skip:", userName)
}

// extractCompositeKey 从完整物理键中截取 source+id 部分
func extractCompositeKey(fullKey, prefix string) string {
	return strings.TrimPrefix(fullKey, prefix)
}

// usernameFromPasswordKey 从 u:<name>:pwd 键中解析用户名，格式不符返回空串
func usernameFromPasswordKey(fullKey string) string {
	if !strings.HasPrefix(fullKey, "u:") || !strings.HasSuffix(fullKey, ":pwd") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(fullKey, "u:"), ":pwd")
}
