package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testLogConfig(dir, level string) LogConfig {
	return LogConfig{
		Level:      level,
		LogDir:     dir,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		NoConsole:  true,
	}
}

func restoreLogger(t *testing.T) {
	prev, prevLevel := Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestInitLogger(t *testing.T) {
	restoreLogger(t)
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "debug")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("测试信息日志")
	Warnf("测试警告日志 %d", 1)
	Debug("测试调试日志")

	content, err := os.ReadFile(filepath.Join(tempDir, MainLogFile))
	if err != nil {
		t.Fatalf("主日志文件未创建: %v", err)
	}
	for _, want := range []string{"测试信息日志", "测试警告日志", "测试调试日志"} {
		if !bytes.Contains(content, []byte(want)) {
			t.Errorf("主日志缺少 %q", want)
		}
	}
}

func TestErrorLogOnlyErrors(t *testing.T) {
	restoreLogger(t)
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "info")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("普通信息")
	Errorf("检索失败: %s", "Ленинский районный суд")

	content, err := os.ReadFile(filepath.Join(tempDir, ErrorLogFile))
	if err != nil {
		t.Fatalf("错误日志文件未创建: %v", err)
	}
	if bytes.Contains(content, []byte("普通信息")) {
		t.Error("错误日志不应包含info级别消息")
	}
	if !bytes.Contains(content, []byte("Ленинский районный суд")) {
		t.Error("错误日志缺少错误消息或俄文编码错误")
	}
}

func TestLogLevels(t *testing.T) {
	restoreLogger(t)
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "info")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Infof("格式化信息日志: %s", "测试")
	Warnf("格式化警告日志: %d", 123)
	Debugf("格式化调试日志: %v", true)

	content, err := os.ReadFile(filepath.Join(tempDir, MainLogFile))
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if strings.Contains(string(content), "格式化调试日志") {
		t.Error("info级别下不应写入debug日志")
	}
	if !strings.Contains(string(content), "格式化警告日志: 123") {
		t.Error("缺少warn日志")
	}
}

func TestJobLogger(t *testing.T) {
	restoreLogger(t)
	var buf bytes.Buffer
	Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	l := JobLogger("job-1", "https://sud.test/")
	l.Info().Msg("开始检索")

	out := buf.String()
	if !strings.Contains(out, `"job":"job-1"`) || !strings.Contains(out, `"address":"https://sud.test/"`) {
		t.Errorf("JobLogger 缺少上下文字段: %s", out)
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxSize != 5 {
		t.Errorf("默认最大大小错误: 期望 5, 得到 %d", config.MaxSize)
	}
	if config.MaxAge != 10 {
		t.Errorf("默认保留天数错误: 期望 10, 得到 %d", config.MaxAge)
	}
	if !config.Compress {
		t.Error("默认应该启用压缩")
	}
}
