package models

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidateURL 校验法院网站地址: 必须是带主机名的 http(s) 地址, 不能包含账号信息
func ValidateURL(address string) error {
	invalid := func(reason string) error {
		return &ValidationError{Field: "address", Value: address, Reason: reason, Suggestion: "例如 https://leninsky--spb.sudrf.ru/"}
	}

	parsed, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return invalid("无法解析地址")
	}
	switch {
	case parsed.Scheme != "http" && parsed.Scheme != "https":
		return invalid("地址必须以 http:// 或 https:// 开头")
	case parsed.Hostname() == "":
		return invalid("地址缺少主机名")
	case parsed.User != nil:
		return invalid("地址不能包含用户名或密码")
	}
	return nil
}

// HostOf 返回地址的小写主机名(不含端口), 解析失败返回空串
func HostOf(address string) string {
	parsed, err := url.Parse(address)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// NewID 生成作业ID
func NewID() string {
	return uuid.NewString()
}
