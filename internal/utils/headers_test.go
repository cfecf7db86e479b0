package utils

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
)

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		value   string
		wantErr bool
	}{
		{"普通头部", "Accept-Language", "ru-RU,ru;q=0.9", false},
		{"自定义头部", "X-Request-Source", "courtcrawl", false},
		{"空值", "X-Empty", "", false},
		{"Host由浏览器设置", "host", "sud.ru", true},
		{"User-Agent不可覆盖", "User-Agent", "bot", true},
		{"Cookie不可固定", "Cookie", "PHPSESSID=1", true},
		{"名称含空格", "X Source", "1", true},
		{"名称为空", "", "1", true},
		{"值含控制字符", "X-Bad", "a\x00b", true},
		{"值过长", "X-Long", strings.Repeat("a", MaxHeaderValueLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(tt.header, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateHeader(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			var ve *models.ValidationError
			if err != nil && !errors.As(err, &ve) {
				t.Errorf("应返回 ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateHeaders(t *testing.T) {
	ok := http.Header{"Accept": {"text/html"}, "X-Source": {"cli"}}
	if err := ValidateHeaders(ok); err != nil {
		t.Errorf("ValidateHeaders() error = %v", err)
	}
	bad := http.Header{"Accept": {"text/html"}, "Connection": {"close"}}
	if err := ValidateHeaders(bad); err == nil {
		t.Error("Connection 应被拒绝")
	}
}

func TestRedactValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"Authorization", "Bearer abcdefghijklmnop", "Bearer ***"},
		{"Authorization", "Basic dXNlcjpwYXNz", "Basic ***"},
		{"X-Api-Key", "1234567890abcdef", "1234***cdef"},
		{"X-Token", "short", "***"},
		{"Accept-Language", "ru-RU", "ru-RU"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.value, func(t *testing.T) {
			if got := RedactValue(tt.name, tt.value); got != tt.want {
				t.Errorf("RedactValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedactedString(t *testing.T) {
	h := http.Header{
		"X-Source":      {"cli"},
		"Authorization": {"Bearer secret-token"},
	}
	want := "Authorization: Bearer ***, X-Source: cli"
	if got := RedactedString(h); got != want {
		t.Errorf("RedactedString() = %q, want %q", got, want)
	}
	if got := RedactHeaders(h); got["Authorization"] != "Bearer ***" || got["X-Source"] != "cli" {
		t.Errorf("RedactHeaders() = %v", got)
	}
}
