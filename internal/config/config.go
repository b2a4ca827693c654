package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signbridge/internal/rules"
	"signbridge/pkg/errs"
)

// EnvPrefix 环境变量覆盖前缀
const EnvPrefix = "SIGNBRIDGE_"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite Sqlite `yaml:"sqlite"`

	Log Log `yaml:"log"`

	Server Server `yaml:"server"`

	Signer Signer `yaml:"signer"`

	Cache Cache `yaml:"cache"`

	Browser Browser `yaml:"browser"`
}

// Sqlite 审计库，dsn 为空时关闭
type Sqlite struct {
	Dsn    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

type Log struct {
	Level      string   `yaml:"level"`
	Writer     []string `yaml:"writer"`
	File       string   `yaml:"file"`
	MaxSizeMB  int      `yaml:"maxSizeMB"`
	MaxBackups int      `yaml:"maxBackups"`
	MaxAgeDays int      `yaml:"maxAgeDays"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Signer struct {
	Layout string `yaml:"layout"`
}

type Cache struct {
	Backend string        `yaml:"backend"` // memory / redis
	TTL     time.Duration `yaml:"ttl"`
	Redis   Redis         `yaml:"redis"`
}

type Redis struct {
	URL       string `yaml:"url"`
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TLS       bool   `yaml:"tls"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// Browser 抓取相关参数
type Browser struct {
	DebugEndpoint   string        `yaml:"debugEndpoint"`
	ExecPath        string        `yaml:"execPath"`
	Headless        bool          `yaml:"headless"`
	UserDataDir     string        `yaml:"userDataDir"`
	EntryURL        string        `yaml:"entryURL"`
	APIPattern      string        `yaml:"apiPattern"`
	Attempts        int           `yaml:"attempts"`
	Polls           int           `yaml:"polls"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	NavigateTimeout time.Duration `yaml:"navigateTimeout"`
	AutoFetchB1     bool          `yaml:"autoFetchB1"`

	// Flags 启动模式额外的浏览器命令行开关
	Flags map[string]string `yaml:"flags"`
	// APIRules 非空时替代 apiPattern 判定要记录的请求
	APIRules []rules.Rule `yaml:"apiRules"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: Sqlite{
			Dsn:    "",
			Prefix: "signbridge_",
		},
		Log: Log{
			Level:      "info",
			Writer:     []string{"console"},
			File:       "logs/signbridge.log",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Server: Server{
			Addr:            ":3000",
			ShutdownTimeout: 10 * time.Second,
		},
		Signer: Signer{
			Layout: "frame",
		},
		Cache: Cache{
			Backend: "memory",
			TTL:     30 * time.Minute,
			Redis: Redis{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "signbridge:b1:",
			},
		},
		Browser: Browser{
			Headless:        true,
			EntryURL:        "https://www.xiaohongshu.com/explore",
			APIPattern:      "/api/sns/",
			Attempts:        3,
			Polls:           30,
			PollInterval:    500 * time.Millisecond,
			RetryDelay:      500 * time.Millisecond,
			NavigateTimeout: 30 * time.Second,
			AutoFetchB1:     true,
		},
	}
}

// Load 依次加载 .env、YAML 文件与环境变量覆盖，path 为空时只用默认值
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errs.ConfigError("config.env", "加载 .env 失败: %v", err)
	}

	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.ConfigError("config.read", "读取配置文件失败: %v", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.ConfigError("config.parse", "解析配置文件失败: %v", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 用 SIGNBRIDGE_* 变量覆盖配置
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	str("ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup(EnvPrefix + "LOG_WRITER"); ok && v != "" {
		c.Log.Writer = strings.Split(v, ",")
	}
	str("LOG_FILE", &c.Log.File)
	str("SQLITE_DSN", &c.Sqlite.Dsn)
	str("SIGNER_LAYOUT", &c.Signer.Layout)
	str("CACHE_BACKEND", &c.Cache.Backend)
	dur("B1_TTL", &c.Cache.TTL)
	str("REDIS_URL", &c.Cache.Redis.URL)
	str("REDIS_ADDR", &c.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &c.Cache.Redis.Password)
	str("DEBUG_ENDPOINT", &c.Browser.DebugEndpoint)
	str("CHROME_PATH", &c.Browser.ExecPath)
	boolean("HEADLESS", &c.Browser.Headless)
	boolean("AUTO_FETCH_B1", &c.Browser.AutoFetchB1)
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	switch c.Signer.Layout {
	case "", "frame", "legacy":
	default:
		return errs.ConfigError("config.validate", "signer.layout 只能是 frame 或 legacy: %q", c.Signer.Layout)
	}
	switch c.Cache.Backend {
	case "", "memory", "redis":
	default:
		return errs.ConfigError("config.validate", "cache.backend 只能是 memory 或 redis: %q", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return errs.ConfigError("config.validate", "cache.ttl 不能为负")
	}
	if c.Browser.Attempts <= 0 || c.Browser.Polls <= 0 {
		return errs.ConfigError("config.validate", "browser.attempts 与 browser.polls 必须为正")
	}
	if c.Browser.PollInterval <= 0 {
		return errs.ConfigError("config.validate", "browser.pollInterval 必须为正")
	}
	if c.Browser.APIPattern == "" {
		return errs.ConfigError("config.validate", "browser.apiPattern 不能为空")
	}
	for i, r := range c.Browser.APIRules {
		m := r.Match
		if len(m.AllOf)+len(m.AnyOf)+len(m.NoneOf) == 0 {
			return errs.ConfigError("config.validate", "browser.apiRules[%d] 没有任何条件", i)
		}
	}
	return nil
}
