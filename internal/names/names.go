// Package names 生成用于法院检索的姓名变体.
//
// 缩写形式统一为 "姓 名首字母. 父称首字母." (无尾随空格), 例如 "Иванов И. И.".
package names

import (
	"fmt"
	"strings"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// Variants 按检索优先级返回姓名变体, 无重复, 结果确定.
//
//	姓+名+父称 → ["姓 名 父称", "姓 名. 父."]
//	姓+名      → ["姓 名.", "姓 名"]
//	其他       → ["姓"]
//
// 格式化出现任何异常时退化为 [姓].
func Variants(p models.PersonQuery) (variants []string) {
	surname := strings.TrimSpace(p.Surname)
	defer func() {
		if r := recover(); r != nil {
			utils.Warnf("生成姓名变体失败,仅使用姓: %v", r)
			variants = []string{surname}
		}
	}()

	name := strings.TrimSpace(p.Name)
	patronymic := strings.TrimSpace(p.Patronymic)

	switch {
	case name != "" && patronymic != "":
		variants = []string{
			fmt.Sprintf("%s %s %s", surname, name, patronymic),
			fmt.Sprintf("%s %s. %s.", surname, initial(name), initial(patronymic)),
		}
	case name != "":
		variants = []string{
			fmt.Sprintf("%s %s.", surname, initial(name)),
			fmt.Sprintf("%s %s", surname, name),
		}
	default:
		variants = []string{surname}
	}
	return dedupe(variants)
}

// initial 返回第一个字母(按rune切分)
func initial(s string) string {
	return string([]rune(s)[0])
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
