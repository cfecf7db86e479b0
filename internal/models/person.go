package models

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	minNamePartLength = 2
	maxNamePartLength = 50
)

var namePartPattern = regexp.MustCompile(`^[а-яёА-ЯЁa-zA-Z\s\-]+$`)

// PersonQuery 被查询人的姓名
// Name 和 Patronymic 为空表示未提供
type PersonQuery struct {
	Surname    string `json:"surname" yaml:"surname"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Patronymic string `json:"patronymic,omitempty" yaml:"patronymic,omitempty"`
}

// NewPersonQuery 规范化并校验姓名各部分
func NewPersonQuery(surname, name, patronymic string) (PersonQuery, error) {
	p := PersonQuery{
		Surname:    normalizeNamePart(surname),
		Name:       normalizeNamePart(name),
		Patronymic: normalizeNamePart(patronymic),
	}
	if err := p.Validate(); err != nil {
		return PersonQuery{}, err
	}
	return p, nil
}

// Validate 校验姓名: 姓必填, 名和父称可选, 每部分2-50个字母/空格/连字符
func (p PersonQuery) Validate() error {
	if strings.TrimSpace(p.Surname) == "" {
		return &ValidationError{Field: "surname", Value: p.Surname, Reason: "姓不能为空"}
	}
	if err := validateNamePart("surname", p.Surname); err != nil {
		return err
	}
	if p.Name != "" {
		if err := validateNamePart("name", p.Name); err != nil {
			return err
		}
	}
	if p.Patronymic != "" {
		if err := validateNamePart("patronymic", p.Patronymic); err != nil {
			return err
		}
	}
	return nil
}

// FullName 返回以空格连接的完整姓名
func (p PersonQuery) FullName() string {
	parts := []string{p.Surname}
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	if p.Patronymic != "" {
		parts = append(parts, p.Patronymic)
	}
	return strings.Join(parts, " ")
}

func validateNamePart(field, value string) error {
	length := utf8.RuneCountInString(value)
	if length < minNamePartLength || length > maxNamePartLength {
		return &ValidationError{
			Field:  field,
			Value:  value,
			Reason: "长度必须在2-50个字符之间",
		}
	}
	if !namePartPattern.MatchString(value) {
		return &ValidationError{
			Field:      field,
			Value:      value,
			Reason:     "只允许字母、空格和连字符",
			Suggestion: "移除数字和标点符号",
		}
	}
	return nil
}

// normalizeNamePart 去除首尾空白并做NFC归一化, 使组合字符(如 и + ̆)合并为单个字母
func normalizeNamePart(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
