package model

// PlayRecord 播放记录
type PlayRecord struct {
	Title         string `json:"title"`
	SourceName    string `json:"source_name"`
	Year          string `json:"year,omitempty"`
	Cover         string `json:"cover"`
	Index         int    `json:"index"`          // 第几集（从 1 开始）
	TotalEpisodes int    `json:"total_episodes"` // 总集数
	PlayTime      int    `json:"play_time"`      // 已播放秒数
	TotalTime     int    `json:"total_time"`     // 视频总时长（秒）
	SaveTime      int64  `json:"save_time"`      // 保存时间（毫秒时间戳）
	SearchTitle   string `json:"search_title,omitempty"`
}

// Favorite 收藏
type Favorite struct {
	Title         string `json:"title"`
	SourceName    string `json:"source_name"`
	Year          string `json:"year,omitempty"`
	Cover         string `json:"cover"`
	TotalEpisodes int    `json:"total_episodes"`
	SaveTime      int64  `json:"save_time"`
	SearchTitle   string `json:"search_title,omitempty"`
}

// SkipConfig 跳过片头片尾配置
// OutroTime 为负数，表示距离片尾的偏移量
type SkipConfig struct {
	Enable    bool `json:"enable"`
	IntroTime int  `json:"intro_time"`
	OutroTime int  `json:"outro_time"`
}

// UserRole 用户角色取值
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleUser  = "user" // 默认角色，存储层不落盘
)

// UserEntry 用户及其角色/封禁状态
type UserEntry struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Banned   bool   `json:"banned,omitempty"`
}
