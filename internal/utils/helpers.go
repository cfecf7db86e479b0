package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"gopkg.in/yaml.v3"
)

// ReadAddressesFromFile 从文件中读取法院网站地址, 每行一个
func ReadAddressesFromFile(filepath string) ([]string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("打开地址文件失败: %w", err)
	}
	defer file.Close()

	addresses := make([]string, 0)
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := models.ValidateURL(line); err != nil {
			Warnf("跳过无效地址 (行 %d): %s - %v", lineNum, line, err)
			continue
		}
		if seen[line] {
			Debugf("跳过重复地址 (行 %d): %s", lineNum, line)
			continue
		}
		seen[line] = true
		addresses = append(addresses, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取地址文件失败: %w", err)
	}

	if len(addresses) == 0 {
		return nil, fmt.Errorf("地址文件中没有有效的地址")
	}

	Infof("从文件加载了 %d 个地址", len(addresses))
	return addresses, nil
}

// BatchFile 批量任务描述文件(YAML)
//
//	person:
//	  surname: Иванов
//	  name: Иван
//	courts:
//	  - https://leninsky--spb.sudrf.ru/
//	jobs:
//	  - address: https://mirsud.spb.ru/
//	    person: {surname: Петров}
type BatchFile struct {
	// Person courts 列表共用的姓名
	Person *models.PersonQuery `yaml:"person"`
	Courts []string            `yaml:"courts"`
	Jobs   []BatchEntry        `yaml:"jobs"`
}

// BatchEntry 一个 (地址, 姓名) 对
type BatchEntry struct {
	Address string             `yaml:"address"`
	Person  models.PersonQuery `yaml:"person"`
}

// LoadBatchFile 读取批量任务文件, 展开为 (地址, 姓名) 列表并逐项校验
func LoadBatchFile(path string) ([]BatchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取批量任务文件失败: %w", err)
	}

	var bf BatchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, &models.ConfigError{FilePath: path, Cause: err}
	}

	entries := make([]BatchEntry, 0, len(bf.Courts)+len(bf.Jobs))
	if len(bf.Courts) > 0 {
		if bf.Person == nil {
			return nil, &models.ValidationError{Field: "person", Reason: "courts 列表需要指定 person", Suggestion: "在文件顶层添加 person.surname"}
		}
		for _, address := range bf.Courts {
			entries = append(entries, BatchEntry{Address: strings.TrimSpace(address), Person: *bf.Person})
		}
	}
	entries = append(entries, bf.Jobs...)

	for i := range entries {
		e := &entries[i]
		if err := models.ValidateURL(e.Address); err != nil {
			return nil, fmt.Errorf("第 %d 项地址无效 %q: %w", i+1, e.Address, err)
		}
		p, err := models.NewPersonQuery(e.Person.Surname, e.Person.Name, e.Person.Patronymic)
		if err != nil {
			return nil, fmt.Errorf("第 %d 项姓名无效: %w", i+1, err)
		}
		e.Person = p
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("批量任务文件中没有作业")
	}
	return entries, nil
}
