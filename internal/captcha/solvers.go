package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

const maxSolverResponse = 64 * 1024

// HTTPSolver 通过HTTP调用外部识别服务.
// 请求: POST {Endpoint}?model={Model}, 请求体为图片字节.
// 响应: JSON {"text": "..."} 或纯文本.
type HTTPSolver struct {
	Endpoint string
	Model    string
	Token    string
	Client   *http.Client
}

// NewHTTPSolver 创建HTTP识别器
func NewHTTPSolver(endpoint, model, token string, timeout time.Duration) *HTTPSolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSolver{
		Endpoint: endpoint,
		Model:    model,
		Token:    token,
		Client:   &http.Client{Timeout: timeout},
	}
}

type solverResponse struct {
	Text   string `json:"text"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

func (h *HTTPSolver) Solve(ctx context.Context, image []byte) (string, error) {
	u, err := url.Parse(h.Endpoint)
	if err != nil {
		return "", fmt.Errorf("识别服务地址无效: %w", err)
	}
	if h.Model != "" {
		q := u.Query()
		q.Set("model", h.Model)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(image))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	utils.Debugf("请求验证码识别服务: %s [%s]", u.Redacted(), utils.RedactedString(req.Header))

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求识别服务失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSolverResponse))
	if err != nil {
		return "", fmt.Errorf("读取识别结果失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("识别服务返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	text := strings.TrimSpace(string(body))
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var r solverResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", fmt.Errorf("解析识别结果失败: %w", err)
		}
		if r.Error != "" {
			return "", fmt.Errorf("识别服务错误: %s", r.Error)
		}
		text = strings.TrimSpace(r.Text)
		if text == "" {
			text = strings.TrimSpace(r.Result)
		}
	}
	if text == "" {
		return "", fmt.Errorf("识别服务返回空结果")
	}
	return text, nil
}

// CommandSolver 调用本地命令识别: 图片写入stdin, stdout首行为结果
type CommandSolver struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func (c *CommandSolver) Solve(ctx context.Context, image []byte) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = bytes.NewReader(image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("识别命令执行失败: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if line = strings.TrimSpace(line); line == "" {
		return "", fmt.Errorf("识别命令输出为空")
	}
	return line, nil
}
