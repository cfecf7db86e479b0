package utils

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"golang.org/x/net/http/httpguts"
)

// MaxHeaderValueLength 附加请求头值最大长度
const MaxHeaderValueLength = 8192

// managedHeaders 由浏览器自身维护的头部, 不允许通过配置覆盖.
// User-Agent 由浏览器配置设置, Cookie 属于验证码会话.
var managedHeaders = map[string]string{
	"Host":              "由浏览器根据地址设置",
	"Content-Length":    "由浏览器计算",
	"Transfer-Encoding": "由浏览器计算",
	"Connection":        "由浏览器管理",
	"User-Agent":        "使用 browser.random_user_agent 或浏览器默认UA",
	"Cookie":            "Cookie 属于验证码会话, 不能固定",
}

// sensitiveKeywords 头部名称包含这些关键字时在日志中脱敏
var sensitiveKeywords = []string{"authorization", "cookie", "token", "key", "secret", "password", "session"}

// ValidateHeader 校验单个附加请求头
func ValidateHeader(name, value string) error {
	canonical := http.CanonicalHeaderKey(name)
	if reason, ok := managedHeaders[canonical]; ok {
		return &models.ValidationError{
			Field:      "headers",
			Value:      name,
			Reason:     "不允许自定义此头部: " + reason,
			Suggestion: fmt.Sprintf("移除 '%s'", name),
		}
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return &models.ValidationError{
			Field:      "headers",
			Value:      name,
			Reason:     "头部名称非法",
			Suggestion: "使用字母、数字和连字符, 如 'X-Request-Source'",
		}
	}
	if len(value) > MaxHeaderValueLength {
		return &models.ValidationError{
			Field:  "headers",
			Value:  name,
			Reason: fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), MaxHeaderValueLength),
		}
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return &models.ValidationError{
			Field:  "headers",
			Value:  name,
			Reason: "头部值包含控制字符",
		}
	}
	return nil
}

// ValidateHeaders 校验全部头部, 返回第一个错误
func ValidateHeaders(headers http.Header) error {
	for _, name := range sortedNames(headers) {
		for _, value := range headers[name] {
			if err := ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsSensitiveHeader 头部是否需要脱敏
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactValue 脱敏单个头部值
func RedactValue(name, value string) string {
	if !IsSensitiveHeader(name) {
		return value
	}
	if scheme, _, ok := strings.Cut(value, " "); ok && (scheme == "Bearer" || scheme == "Basic") {
		return scheme + " ***"
	}
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

// RedactHeaders 返回脱敏后的头部, 多值头部只取第一个
func RedactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) > 0 {
			out[name] = RedactValue(name, values[0])
		}
	}
	return out
}

// RedactedString 按名称排序的 "Name: value" 列表, 用于日志
func RedactedString(headers http.Header) string {
	parts := make([]string, 0, len(headers))
	for _, name := range sortedNames(headers) {
		if values := headers[name]; len(values) > 0 {
			parts = append(parts, name+": "+RedactValue(name, values[0]))
		}
	}
	return strings.Join(parts, ", ")
}

func sortedNames(headers http.Header) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
