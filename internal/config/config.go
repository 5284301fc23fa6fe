package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App        AppConfig        `json:"app"`
	MySQL      MySQLConfig      `json:"mysql"`
	Redis      RedisConfig      `json:"redis"`
	Classifier ClassifierConfig `json:"classifier"`
	Browser    BrowserConfig    `json:"browser"`
	Email      EmailConfig      `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env              string        `json:"env"`                // 运行环境: local / prod
	LogLevel         string        `json:"log_level"`          // 日志级别: debug / info / warn / error
	HTTPAddr         string        `json:"http_addr"`          // API 服务监听地址
	Store            string        `json:"store"`              // 来源站点标识，写入商品记录
	WorkerPoolSize   int           `json:"worker_pool_size"`   // 抓取任务 worker 数
	QueueCapacity    int           `json:"queue_capacity"`     // 抓取任务队列容量
	SearchDedupTTL   time.Duration `json:"search_dedup_ttl"`   // 相同搜索词的去重窗口
	IngestLockTTL    time.Duration `json:"ingest_lock_ttl"`    // 入库互斥锁的最长持有时间
	AlertEmail       string        `json:"alert_email"`        // 捡漏提醒收件人（为空则不发送）
	BelowAvgDiscount float64       `json:"below_avg_discount"` // 低于均价多少算捡漏（0.85 = 85%）
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// ClassifierConfig 零样本分类服务配置。
type ClassifierConfig struct {
	Endpoint string        `json:"endpoint"` // 分类服务 HTTP 地址
	APIKey   string        `json:"api_key"`  // 鉴权 token
	Timeout  time.Duration `json:"timeout"`  // 单次请求超时
	Rate     float64       `json:"rate"`     // 请求速率限制（req/s）
	Burst    int           `json:"burst"`    // 速率限制桶容量
}

// BrowserConfig 抓取浏览器配置。
type BrowserConfig struct {
	BinPath     string        `json:"bin_path"`     // 浏览器可执行文件路径（为空则自动下载）
	BaseURL     string        `json:"base_url"`     // 来源站点根地址
	Headless    bool          `json:"headless"`     // 是否使用无头模式
	PageTimeout time.Duration `json:"page_timeout"` // 单页加载超时
	MaxPages    int           `json:"max_pages"`    // 单次搜索最多翻页数
	PageRate    float64       `json:"page_rate"`    // 翻页速率限制（page/s）
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// Load 从 JSON 文件加载配置。
//
// 配置文件不存在时使用默认值；环境变量始终拥有最高优先级。
//
// 参数:
//
//	configPath: 配置文件路径（为空则使用默认路径 "configs/config.json"）
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
			Env:              "local",
			LogLevel:         "info",
			HTTPAddr:         ":8080",
			Store:            "Altex",
			WorkerPoolSize:   2,
			QueueCapacity:    32,
			SearchDedupTTL:   10 * time.Minute,
			IngestLockTTL:    5 * time.Minute,
			BelowAvgDiscount: 0.85,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/pricescout?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Classifier: ClassifierConfig{
			Endpoint: "http://localhost:8000/classify",
			Timeout:  30 * time.Second,
			Rate:     2,
			Burst:    4,
		},
		Browser: BrowserConfig{
			BinPath:     "",
			BaseURL:     "https://altex.ro",
			Headless:    true,
			PageTimeout: 20 * time.Second,
			MaxPages:    10,
			PageRate:    0.3,
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
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
	if cfg.App.Store == "" {
		cfg.App.Store = defaults.App.Store
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.SearchDedupTTL == 0 {
		cfg.App.SearchDedupTTL = defaults.App.SearchDedupTTL
	}
	if cfg.App.IngestLockTTL == 0 {
		cfg.App.IngestLockTTL = defaults.App.IngestLockTTL
	}
	if cfg.App.BelowAvgDiscount == 0 {
		cfg.App.BelowAvgDiscount = defaults.App.BelowAvgDiscount
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Classifier.Endpoint == "" {
		cfg.Classifier.Endpoint = defaults.Classifier.Endpoint
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = defaults.Classifier.Timeout
	}
	if cfg.Classifier.Rate == 0 {
		cfg.Classifier.Rate = defaults.Classifier.Rate
	}
	if cfg.Classifier.Burst == 0 {
		cfg.Classifier.Burst = defaults.Classifier.Burst
	}
	if cfg.Browser.BaseURL == "" {
		cfg.Browser.BaseURL = defaults.Browser.BaseURL
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Browser.MaxPages == 0 {
		cfg.Browser.MaxPages = defaults.Browser.MaxPages
	}
	if cfg.Browser.PageRate == 0 {
		cfg.Browser.PageRate = defaults.Browser.PageRate
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

// applyEnvOverrides 用环境变量覆盖配置。
func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("classifier_api_key", "CLASSIFIER_API_KEY")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_STORE"); v != "" {
		cfg.App.Store = v
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_SEARCH_DEDUP_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.SearchDedupTTL = d
		}
	}
	if v := os.Getenv("APP_INGEST_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.IngestLockTTL = d
		}
	}
	if v := os.Getenv("APP_ALERT_EMAIL"); v != "" {
		cfg.App.AlertEmail = v
	}
	if v := os.Getenv("APP_BELOW_AVG_DISCOUNT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.BelowAvgDiscount = f
		}
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := "3306"
			if p := os.Getenv("DB_PORT"); p != "" {
				port = p
			}
			parsed.Addr = v + ":" + port
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("CLASSIFIER_ENDPOINT"); v != "" {
		cfg.Classifier.Endpoint = v
	}
	if v := viper.GetString("classifier_api_key"); v != "" {
		cfg.Classifier.APIKey = v
	}
	if v := os.Getenv("CLASSIFIER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Classifier.Timeout = d
		}
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("BROWSER_BASE_URL"); v != "" {
		cfg.Browser.BaseURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.PageTimeout = d
		}
	}
	if v := os.Getenv("BROWSER_MAX_PAGES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Browser.MaxPages = i
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "pricescout",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		SearchDedupTTL string `json:"search_dedup_ttl"`
		IngestLockTTL  string `json:"ingest_lock_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.SearchDedupTTL != "" {
		d, err := time.ParseDuration(aux.SearchDedupTTL)
		if err != nil {
			return fmt.Errorf("invalid search_dedup_ttl format: %w", err)
		}
		a.SearchDedupTTL = d
	}
	if aux.IngestLockTTL != "" {
		d, err := time.ParseDuration(aux.IngestLockTTL)
		if err != nil {
			return fmt.Errorf("invalid ingest_lock_ttl format: %w", err)
		}
		a.IngestLockTTL = d
	}

	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (c *ClassifierConfig) UnmarshalJSON(data []byte) error {
	type Alias ClassifierConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout format: %w", err)
		}
		c.Timeout = d
	}

	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout string `json:"page_timeout"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.PageTimeout != "" {
		d, err := time.ParseDuration(aux.PageTimeout)
		if err != nil {
			return fmt.Errorf("invalid page_timeout format: %w", err)
		}
		b.PageTimeout = d
	}

	return nil
}
