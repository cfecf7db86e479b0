package main

import "testing"

func TestValidateCrawlFlags(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		surname string
		wantErr bool
	}{
		{"正常", "https://leninsky--spb.sudrf.ru/", "Иванов", false},
		{"缺少地址", "", "Иванов", true},
		{"非法协议", "ftp://sud.ru", "Иванов", true},
		{"缺少姓", "https://sud.ru", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateCrawlFlags(tt.url, tt.surname); (err != nil) != tt.wantErr {
				t.Errorf("ValidateCrawlFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBatchFlags(t *testing.T) {
	tests := []struct {
		name        string
		batchFile   string
		urlFile     string
		surname     string
		concurrency int
		wantErr     bool
	}{
		{"任务文件", "jobs.yaml", "", "", 4, false},
		{"地址文件", "", "courts.txt", "Иванов", 4, false},
		{"都未指定", "", "", "Иванов", 4, true},
		{"同时指定", "jobs.yaml", "courts.txt", "Иванов", 4, true},
		{"地址文件缺少姓", "", "courts.txt", "", 4, true},
		{"并发为0", "jobs.yaml", "", "", 0, true},
		{"并发过大", "jobs.yaml", "", "", 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchFlags(tt.batchFile, tt.urlFile, tt.surname, tt.concurrency)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBatchFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
