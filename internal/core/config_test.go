package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/captcha"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers/crawlertest"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/resilience"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !cfg.Browser.Headless || !cfg.Browser.Stealth {
		t.Errorf("浏览器默认值错误: %+v", cfg.Browser)
	}
	if cfg.Browser.OpTimeout != crawlers.DefaultOpTimeout || cfg.BrowserOptions(nil).OpTimeout != crawlers.DefaultOpTimeout {
		t.Errorf("浏览器操作上限 = %s", cfg.Browser.OpTimeout)
	}
	if cfg.Crawl.MaxRetries != resilience.DefaultMaxRetries || cfg.Crawl.RetryDelay != resilience.DefaultDelay {
		t.Errorf("重试默认值错误: %+v", cfg.Crawl)
	}
	if cfg.Crawl.RegionalResultsTimeout != 120*time.Second {
		t.Errorf("地区门户结果等待 = %s", cfg.Crawl.RegionalResultsTimeout)
	}
	if cfg.Captcha.MaxAttempts != captcha.DefaultMaxAttempts || cfg.Captcha.Backend != "http" {
		t.Errorf("验证码默认值错误: %+v", cfg.Captcha)
	}
	if cfg.Batch.SoftTimeout != 6*time.Minute || cfg.Batch.HardTimeout != 10*time.Minute || cfg.Batch.Concurrency != 4 {
		t.Errorf("批量默认值错误: %+v", cfg.Batch)
	}
	if cfg.Logging.Rotation.MaxSize != 5 || cfg.Logging.Rotation.MaxAge != 10 {
		t.Errorf("日志轮转默认值错误: %+v", cfg.Logging.Rotation)
	}
	if cfg.Output.Format != "json" || cfg.Output.DB == "" {
		t.Errorf("输出默认值错误: %+v", cfg.Output)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
browser:
  headless: false
  op_timeout: 5s
  headers:
    X-Request-Source: courtcrawl
crawl:
  retry_delay: 1s
captcha:
  backend: command
  command: ["python3", "solve.py"]
`)
	t.Setenv("COURTCRAWL_BATCH_CONCURRENCY", "9")
	t.Setenv("COURTCRAWL_CRAWL_FORM_TIMEOUT", "5s")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Browser.Headless {
		t.Error("配置文件应关闭无头模式")
	}
	if cfg.BrowserOptions(nil).OpTimeout != 5*time.Second {
		t.Errorf("op_timeout = %s", cfg.Browser.OpTimeout)
	}
	if cfg.Browser.Headers["x-request-source"] != "courtcrawl" {
		t.Errorf("headers = %v", cfg.Browser.Headers)
	}
	if cfg.Crawl.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %s", cfg.Crawl.RetryDelay)
	}
	if cfg.Batch.Concurrency != 9 {
		t.Errorf("环境变量未覆盖 batch.concurrency: %d", cfg.Batch.Concurrency)
	}
	if cfg.Timeouts().Form != 5*time.Second {
		t.Errorf("Timeouts().Form = %s", cfg.Timeouts().Form)
	}
	if len(cfg.Captcha.Command) != 2 {
		t.Errorf("Command = %v", cfg.Captcha.Command)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"未知识别后端", "captcha:\n  backend: magic\n", "captcha.backend"},
		{"command缺少命令", "captcha:\n  backend: command\n", "captcha.command"},
		{"未知输出格式", "output:\n  format: xml\n", "output.format"},
		{"软超时大于硬超时", "batch:\n  soft_timeout: 20m\n  hard_timeout: 10m\n", "batch.soft_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			var ve *models.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("LoadConfig() error = %v, want ValidationError on %s", err, tt.field)
			}
		})
	}

	t.Run("YAML语法错误", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "browser: [\n"))
		var ce *models.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("LoadConfig() error = %v, want ConfigError", err)
		}
	})
}

func TestMergeCLIFlags(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.MergeCLIFlags(false, 2, "/tmp/out", "markdown")
	if cfg.Browser.Headless || cfg.Batch.Concurrency != 2 || cfg.Output.Dir != "/tmp/out" || cfg.Output.Format != "markdown" {
		t.Errorf("MergeCLIFlags() = %+v", cfg)
	}

	cfg.MergeCLIFlags(true, 0, "", "")
	if cfg.Batch.Concurrency != 2 || cfg.Output.Dir != "/tmp/out" {
		t.Error("空的命令行参数不应覆盖配置")
	}
}

func TestNewDeps(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "batch:\n  probe: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	deps := cfg.NewDeps(&crawlertest.Opener{}, nil)

	if deps.Solver == nil || deps.LegacyASolver == nil {
		t.Error("http后端应创建两个识别器")
	}
	if deps.Probe == nil {
		t.Error("batch.probe 开启时应创建预检")
	}
	if deps.LegacyADelay != 2500*time.Millisecond || deps.CaptchaMaxAttempts != captcha.DefaultMaxAttempts {
		t.Errorf("deps = %+v", deps)
	}

	cfg.Captcha.Backend = "none"
	if deps := cfg.NewDeps(&crawlertest.Opener{}, nil); deps.Solver != nil || deps.verifier(models.FlavorRegular) != nil {
		t.Error("none后端不应创建识别器")
	}
}
