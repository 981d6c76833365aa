package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// 存储类型常量，启动时选定后不再切换
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
	StorageTypeUpstash  = "upstash"
)

// Config 应用配置
type Config struct {
	Env          string
	AppSecret    string
	StorageType  string
	DatabaseURL  string
	RedisURL     string
	UpstashURL   string
	UpstashToken string
	JWTExpiry    time.Duration
	Port         string
	SiteName     string
	// 站长账号，拥有 owner 角色，不经注册流程
	OwnerUsername string
	OwnerPassword string
}

// Load 加载配置
func Load() *Config {
	expiryHours, _ := strconv.Atoi(getEnv("JWT_EXPIRY_HOURS", "72"))

	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "moontv")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL)

	appSecret := getEnv("APP_SECRET", getEnv("JWT_SECRET", "your-secret-key-change-in-production"))

	if getEnv("APP_ENV", "development") == "production" && appSecret == "your-secret-key-change-in-production" {
		fmt.Println("【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	return &Config{
		Env:           getEnv("APP_ENV", "development"),
		AppSecret:     appSecret,
		StorageType:   getEnv("STORAGE_TYPE", StorageTypeMemory),
		DatabaseURL:   dbURL,
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		UpstashURL:    getEnv("UPSTASH_URL", ""),
		UpstashToken:  getEnv("UPSTASH_TOKEN", ""),
		JWTExpiry:     time.Duration(expiryHours) * time.Hour,
		Port:          getEnv("PORT", "5005"),
		SiteName:      getEnv("SITE_NAME", "MoonTV"),
		OwnerUsername: getEnv("USERNAME", "admin"),
		OwnerPassword: getEnv("PASSWORD", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
