package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/captcha"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/flavors"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/resilience"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀, 例如 COURTCRAWL_BROWSER_HEADLESS
const EnvPrefix = "COURTCRAWL"

// Config 应用程序配置
type Config struct {
	Browser  BrowserConfig  `mapstructure:"browser"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Resource ResourceConfig `mapstructure:"resource"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Output   OutputConfig   `mapstructure:"output"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless        bool              `mapstructure:"headless"`
	Bin             string            `mapstructure:"bin"`
	NoSandbox       bool              `mapstructure:"no_sandbox"`
	WindowWidth     int               `mapstructure:"window_width"`
	WindowHeight    int               `mapstructure:"window_height"`
	RandomUserAgent bool              `mapstructure:"random_user_agent"`
	Stealth         bool              `mapstructure:"stealth"`
	OpTimeout       time.Duration     `mapstructure:"op_timeout"`
	Headers         map[string]string `mapstructure:"headers"`
}

// CrawlConfig 导航与重试参数
type CrawlConfig struct {
	MaxRetries             int           `mapstructure:"max_retries"`
	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	LegacyARetryDelay      time.Duration `mapstructure:"legacy_a_retry_delay"`
	DetectTimeout          time.Duration `mapstructure:"detect_timeout"`
	ElementTimeout         time.Duration `mapstructure:"element_timeout"`
	ResultsTimeout         time.Duration `mapstructure:"results_timeout"`
	RegionalResultsTimeout time.Duration `mapstructure:"regional_results_timeout"`
	FormTimeout            time.Duration `mapstructure:"form_timeout"`
	MultiServerFormTimeout time.Duration `mapstructure:"multi_server_form_timeout"`
	TypeDelay              time.Duration `mapstructure:"type_delay"`
	CaptchaSettle          time.Duration `mapstructure:"captcha_settle"`
}

// CaptchaConfig 验证码识别服务
type CaptchaConfig struct {
	Backend      string        `mapstructure:"backend"` // http | command
	Endpoint     string        `mapstructure:"endpoint"`
	Model        string        `mapstructure:"model"`          // 黄色模板验证码模型
	LegacyAModel string        `mapstructure:"legacy_a_model"` // 蓝色模板验证码模型
	Command      []string      `mapstructure:"command"`
	Token        string        `mapstructure:"token"`
	Concurrency  int           `mapstructure:"concurrency"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// BatchConfig 批量作业
type BatchConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	SoftTimeout     time.Duration `mapstructure:"soft_timeout"`
	HardTimeout     time.Duration `mapstructure:"hard_timeout"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
	Probe           bool          `mapstructure:"probe"`
}

// ResourceConfig 资源监控
type ResourceConfig struct {
	SafetyReserveMemory int64 `mapstructure:"safety_reserve_memory"` // MB
	SessionMemory       int64 `mapstructure:"session_memory"`        // MB
	MaxSessions         int   `mapstructure:"max_sessions"`
	CPULoadThreshold    int   `mapstructure:"cpu_load_threshold"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"` // json | markdown
	DB     string `mapstructure:"db"`
}

// LoadConfig 加载配置文件. 未找到配置文件时使用默认值.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "courtcrawl"))
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 浏览器
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.random_user_agent", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.op_timeout", crawlers.DefaultOpTimeout)
	v.SetDefault("browser.headers", map[string]string{})

	// 导航
	v.SetDefault("crawl.max_retries", resilience.DefaultMaxRetries)
	v.SetDefault("crawl.retry_delay", resilience.DefaultDelay)
	v.SetDefault("crawl.legacy_a_retry_delay", 2500*time.Millisecond)
	v.SetDefault("crawl.detect_timeout", 15*time.Second)
	v.SetDefault("crawl.element_timeout", 10*time.Second)
	v.SetDefault("crawl.results_timeout", 30*time.Second)
	v.SetDefault("crawl.regional_results_timeout", 120*time.Second)
	v.SetDefault("crawl.form_timeout", 40*time.Second)
	v.SetDefault("crawl.multi_server_form_timeout", 50*time.Second)
	v.SetDefault("crawl.type_delay", captcha.DefaultTypeDelay)
	v.SetDefault("crawl.captcha_settle", captcha.DefaultSettle)

	// 验证码
	v.SetDefault("captcha.backend", "http")
	v.SetDefault("captcha.endpoint", "http://127.0.0.1:8000/solve")
	v.SetDefault("captcha.model", "sudrf")
	v.SetDefault("captcha.legacy_a_model", "kcaptcha")
	v.SetDefault("captcha.command", []string{})
	v.SetDefault("captcha.token", "")
	v.SetDefault("captcha.concurrency", 1)
	v.SetDefault("captcha.max_attempts", captcha.DefaultMaxAttempts)
	v.SetDefault("captcha.timeout", 30*time.Second)

	// 批量
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.soft_timeout", 6*time.Minute)
	v.SetDefault("batch.hard_timeout", 10*time.Minute)
	v.SetDefault("batch.continue_on_error", true)
	v.SetDefault("batch.probe", false)

	// 资源
	v.SetDefault("resource.safety_reserve_memory", 512)
	v.SetDefault("resource.session_memory", 300)
	v.SetDefault("resource.max_sessions", 8)
	v.SetDefault("resource.cpu_load_threshold", 90)

	// 日志: 5MB轮转, 保留10天
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 5)
	v.SetDefault("logging.rotation.max_backups", 10)
	v.SetDefault("logging.rotation.max_age", 10)
	v.SetDefault("logging.rotation.compress", true)

	// 输出
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.format", "json")
	v.SetDefault("output.db", filepath.Join(xdg.DataHome, "courtcrawl", "results.db"))
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	switch c.Captcha.Backend {
	case "http", "command", "none":
	default:
		return &models.ValidationError{Field: "captcha.backend", Value: c.Captcha.Backend, Reason: "未知的识别后端", Suggestion: "http | command | none"}
	}
	if c.Captcha.Backend == "command" && len(c.Captcha.Command) == 0 {
		return &models.ValidationError{Field: "captcha.command", Reason: "command后端需要指定命令"}
	}
	switch c.Output.Format {
	case "json", "markdown":
	default:
		return &models.ValidationError{Field: "output.format", Value: c.Output.Format, Reason: "未知的输出格式", Suggestion: "json | markdown"}
	}
	if c.Batch.HardTimeout > 0 && c.Batch.SoftTimeout > c.Batch.HardTimeout {
		return &models.ValidationError{Field: "batch.soft_timeout", Value: c.Batch.SoftTimeout.String(), Reason: "软超时不能大于硬超时"}
	}
	return nil
}

// MergeCLIFlags 合并命令行参数到配置, 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(headless bool, concurrency int, outputDir, format string) {
	c.Browser.Headless = headless
	if concurrency > 0 {
		c.Batch.Concurrency = concurrency
	}
	if outputDir != "" {
		c.Output.Dir = outputDir
	}
	if format != "" {
		c.Output.Format = format
	}
}

// LogConfig 转换为日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// BrowserOptions 转换为浏览器启动参数
func (c *Config) BrowserOptions(headers models.HeaderProvider) crawlers.BrowserOptions {
	opts := crawlers.DefaultBrowserOptions()
	opts.Headless = c.Browser.Headless
	opts.Bin = c.Browser.Bin
	opts.NoSandbox = c.Browser.NoSandbox
	opts.WindowWidth = c.Browser.WindowWidth
	opts.WindowHeight = c.Browser.WindowHeight
	opts.RandomUserAgent = c.Browser.RandomUserAgent
	opts.Stealth = c.Browser.Stealth
	if c.Browser.OpTimeout > 0 {
		opts.OpTimeout = c.Browser.OpTimeout
	}
	opts.Headers = headers
	return opts
}

// Timeouts 转换为导航等待时间, 未设置的项使用默认值
func (c *Config) Timeouts() flavors.Timeouts {
	t := flavors.DefaultTimeouts()
	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&t.Detect, c.Crawl.DetectTimeout)
	set(&t.Element, c.Crawl.ElementTimeout)
	set(&t.Results, c.Crawl.ResultsTimeout)
	set(&t.Form, c.Crawl.FormTimeout)
	set(&t.MultiServerForm, c.Crawl.MultiServerFormTimeout)
	set(&t.RegionalResults, c.Crawl.RegionalResultsTimeout)
	set(&t.TypeDelay, c.Crawl.TypeDelay)
	return t
}

// ResourceMonitorConfig 转换为资源监控配置
func (c *Config) ResourceMonitorConfig() crawlers.ResourceMonitorConfig {
	const mb = 1024 * 1024
	return crawlers.ResourceMonitorConfig{
		SafetyReserveMemory: c.Resource.SafetyReserveMemory * mb,
		SessionMemoryUsage:  c.Resource.SessionMemory * mb,
		MaxSessionsLimit:    c.Resource.MaxSessions,
		CPULoadThreshold:    c.Resource.CPULoadThreshold,
	}
}

// Solvers 创建黄色与蓝色模板的识别器, 两者共享同一个限流池
func (c *Config) Solvers(pool *captcha.Pool) (legacyB, legacyA captcha.Solver) {
	switch c.Captcha.Backend {
	case "none":
		return nil, nil
	case "command":
		cmd := &captcha.CommandSolver{Command: c.Captcha.Command[0], Args: c.Captcha.Command[1:], Timeout: c.Captcha.Timeout}
		return pool.Wrap(cmd), pool.Wrap(cmd)
	default:
		b := captcha.NewHTTPSolver(c.Captcha.Endpoint, c.Captcha.Model, c.Captcha.Token, c.Captcha.Timeout)
		a := captcha.NewHTTPSolver(c.Captcha.Endpoint, c.Captcha.LegacyAModel, c.Captcha.Token, c.Captcha.Timeout)
		return pool.Wrap(b), pool.Wrap(a)
	}
}

// NewDeps 根据配置组装作业依赖
func (c *Config) NewDeps(opener crawlers.Opener, headers models.HeaderProvider) Deps {
	layer := resilience.New(c.Crawl.MaxRetries, c.Crawl.RetryDelay)
	solver, legacyA := c.Solvers(captcha.NewPool(c.Captcha.Concurrency))

	deps := Deps{
		Opener:             opener,
		Layer:              layer,
		LegacyADelay:       c.Crawl.LegacyARetryDelay,
		Timeouts:           c.Timeouts(),
		Solver:             solver,
		LegacyASolver:      legacyA,
		CaptchaMaxAttempts: c.Captcha.MaxAttempts,
		CaptchaSettle:      c.Crawl.CaptchaSettle,
		Headless:           c.Browser.Headless,
	}
	if c.Batch.Probe {
		deps.Probe = crawlers.NewProbe(crawlers.ProbeOptions{Timeout: c.Crawl.ResultsTimeout, Headers: headers})
	}
	return deps
}
