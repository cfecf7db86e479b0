package main

import (
	"fmt"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
)

// ValidateURL 验证法院网站地址
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("必须指定法院网站地址 (-u)")
	}
	if err := models.ValidateURL(urlStr); err != nil {
		return fmt.Errorf("无效的法院网站地址: %w", err)
	}
	return nil
}

// ValidateCrawlFlags 验证单个检索的参数
func ValidateCrawlFlags(targetURL, surname string) error {
	if err := ValidateURL(targetURL); err != nil {
		return err
	}
	if surname == "" {
		return fmt.Errorf("必须指定姓 (--surname)")
	}
	return nil
}

// ValidateBatchFlags 验证批量检索的参数
func ValidateBatchFlags(batchFile, urlFile, surname string, concurrency int) error {
	switch {
	case batchFile == "" && urlFile == "":
		return fmt.Errorf("必须指定批量任务文件 (-f) 或地址文件 (--url-file)")
	case batchFile != "" && urlFile != "":
		return fmt.Errorf("-f 与 --url-file 不能同时使用")
	case urlFile != "" && surname == "":
		return fmt.Errorf("使用 --url-file 时必须指定姓 (--surname)")
	}

	if concurrency < 1 || concurrency > 32 {
		return fmt.Errorf("并发数必须在1-32之间,当前值: %d", concurrency)
	}
	return nil
}
