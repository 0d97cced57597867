package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Security SecurityConfig `json:"security"`
	Seed     SeedConfig     `json:"seed"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env         string   `json:"env"`          // 运行环境: local / prod
	LogLevel    string   `json:"log_level"`    // 日志级别: debug / info / warn / error
	HTTPAddr    string   `json:"http_addr"`    // API 服务监听地址
	CORSOrigins []string `json:"cors_origins"` // 允许跨域的前端地址
}

// DatabaseConfig 关系型数据库配置。
type DatabaseConfig struct {
	Driver          string        `json:"driver"`            // mysql / postgres
	DSN             string        `json:"dsn"`               // 数据库连接字符串
	MaxOpenConns    int           `json:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `json:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"` // 连接最长存活时间（如 "30m"）
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string        `json:"addr"`      // Redis 地址 (host:port)
	Password string        `json:"password"`  // Redis 密码
	DB       int           `json:"db"`        // Redis DB 编号
	CacheTTL time.Duration `json:"cache_ttl"` // 默认缓存 TTL（如 "60s"）
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret                string  `json:"jwt_secret"`                  // JWT 签名密钥
	JWTAlgorithm             string  `json:"jwt_algorithm"`               // 签名算法: HS256 / HS384 / HS512
	AccessTokenExpireMinutes int     `json:"access_token_expire_minutes"` // token 有效期（分钟）
	BcryptCost               int     `json:"bcrypt_cost"`                 // bcrypt cost
	LoginRateLimit           float64 `json:"login_rate_limit"`            // 登录限流速率（次/秒，0 表示不限）
	LoginRateBurst           float64 `json:"login_rate_burst"`            // 登录限流桶容量
}

// SeedConfig 启动时初始化的管理员账号，邮箱为空则跳过。
type SeedConfig struct {
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 随后加载 .env（可选）并应用环境变量覆盖。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// .env 不存在时忽略
	_ = godotenv.Load()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":8000",
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			DSN:             "root:password@tcp(localhost:3306)/taskmanager?parseTime=true&loc=UTC",
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			CacheTTL: 60 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:                "dev_secret_change_me",
			JWTAlgorithm:             "HS256",
			AccessTokenExpireMinutes: 30,
			BcryptCost:               10,
			LoginRateLimit:           0.2,
			LoginRateBurst:           5,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.CORSOrigins == nil {
		cfg.App.CORSOrigins = defaults.App.CORSOrigins
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = defaults.Database.ConnMaxLifetime
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = defaults.Redis.CacheTTL
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.JWTAlgorithm == "" {
		cfg.Security.JWTAlgorithm = defaults.Security.JWTAlgorithm
	}
	if cfg.Security.AccessTokenExpireMinutes == 0 {
		cfg.Security.AccessTokenExpireMinutes = defaults.Security.AccessTokenExpireMinutes
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = defaults.Security.BcryptCost
	}
	if cfg.Security.LoginRateBurst == 0 {
		cfg.Security.LoginRateBurst = defaults.Security.LoginRateBurst
	}
}

func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.AutomaticEnv()

	_ = v.BindEnv("jwt_secret", "SECRET_KEY", "JWT_SECRET")
	_ = v.BindEnv("db_dsn", "DB_DSN", "DATABASE_URL")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("seed_admin_password", "SEED_ADMIN_PASSWORD")

	if val := os.Getenv("APP_ENV"); val != "" {
		cfg.App.Env = val
	}
	if val := os.Getenv("APP_LOG_LEVEL"); val != "" {
		cfg.App.LogLevel = val
	}
	if val := os.Getenv("APP_HTTP_ADDR"); val != "" {
		cfg.App.HTTPAddr = val
	}
	if val := os.Getenv("APP_CORS_ORIGINS"); val != "" {
		cfg.App.CORSOrigins = splitList(val)
	}

	if val := os.Getenv("DB_DRIVER"); val != "" {
		cfg.Database.Driver = val
	}
	if val := v.GetString("db_dsn"); val != "" {
		cfg.Database.DSN = val
		if os.Getenv("DB_DRIVER") == "" && looksLikePostgresURL(val) {
			cfg.Database.Driver = "postgres"
		}
	}
	if val := os.Getenv("DB_MAX_OPEN_CONNS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Database.MaxOpenConns = i
		}
	}
	if val := os.Getenv("DB_MAX_IDLE_CONNS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Database.MaxIdleConns = i
		}
	}

	if val := v.GetString("redis_url"); val != "" {
		applyRedisURL(&cfg.Redis, val)
	}
	if val := v.GetString("redis_addr"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := v.GetString("redis_password"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = i
		}
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		if d, err := parseSecondsOrDuration(val); err == nil {
			cfg.Redis.CacheTTL = d
		}
	}

	if val := v.GetString("jwt_secret"); val != "" {
		cfg.Security.JWTSecret = val
	}
	if val := os.Getenv("ALGORITHM"); val != "" {
		cfg.Security.JWTAlgorithm = val
	}
	if val := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Security.AccessTokenExpireMinutes = i
		}
	}
	if val := os.Getenv("BCRYPT_COST"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Security.BcryptCost = i
		}
	}
	if val := os.Getenv("LOGIN_RATE_LIMIT"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Security.LoginRateLimit = f
		}
	}
	if val := os.Getenv("LOGIN_RATE_BURST"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Security.LoginRateBurst = f
		}
	}

	if val := os.Getenv("SEED_ADMIN_EMAIL"); val != "" {
		cfg.Seed.AdminEmail = val
	}
	if val := v.GetString("seed_admin_password"); val != "" {
		cfg.Seed.AdminPassword = val
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func looksLikePostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// applyRedisURL 解析 redis://[:password@]host:port/db 形式的地址。
func applyRedisURL(rc *RedisConfig, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return
	}
	rc.Addr = u.Host
	if pw, ok := u.User.Password(); ok {
		rc.Password = pw
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		if i, err := strconv.Atoi(db); err == nil {
			rc.DB = i
		}
	}
}

func parseSecondsOrDuration(s string) (time.Duration, error) {
	if i, err := strconv.Atoi(s); err == nil {
		return time.Duration(i) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (d *DatabaseConfig) UnmarshalJSON(data []byte) error {
	type Alias DatabaseConfig
	aux := &struct {
		ConnMaxLifetime string `json:"conn_max_lifetime"`
		*Alias
	}{
		Alias: (*Alias)(d),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ConnMaxLifetime != "" {
		duration, err := time.ParseDuration(aux.ConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("invalid conn_max_lifetime format: %w", err)
		}
		d.ConnMaxLifetime = duration
	}
	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (r *RedisConfig) UnmarshalJSON(data []byte) error {
	type Alias RedisConfig
	aux := &struct {
		CacheTTL string `json:"cache_ttl"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.CacheTTL != "" {
		duration, err := time.ParseDuration(aux.CacheTTL)
		if err != nil {
			return fmt.Errorf("invalid cache_ttl format: %w", err)
		}
		r.CacheTTL = duration
	}
	return nil
}
