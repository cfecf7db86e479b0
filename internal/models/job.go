package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus 作业状态
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"   // 待执行
	JobStatusRunning   JobStatus = "running"   // 执行中
	JobStatusCompleted JobStatus = "completed" // 已完成(结果树可能包含错误标记)
	JobStatusFailed    JobStatus = "failed"    // 作业级错误
	JobStatusTimedOut  JobStatus = "timed_out" // 超过硬超时
	JobStatusCancelled JobStatus = "cancelled" // 已取消
)

// Finished 是否为终态
func (s JobStatus) Finished() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut, JobStatusCancelled:
		return true
	}
	return false
}

// CrawlJob 单个 (地址, 姓名) 爬取作业的记录
type CrawlJob struct {
	ID          string      `json:"id"`
	Address     string      `json:"address"`
	Person      PersonQuery `json:"person"`
	Headless    bool        `json:"headless"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`

	Status   JobStatus   `json:"status"`
	Flavor   Flavor      `json:"flavor,omitempty"`
	Court    string      `json:"court,omitempty"`
	Stats    ResultStats `json:"stats"`
	Duration float64     `json:"duration"` // 秒

	ErrorMessage string `json:"error_message,omitempty"`
}

// NewCrawlJob 创建新作业, 校验地址和姓名
func NewCrawlJob(address string, person PersonQuery, headless bool) (*CrawlJob, error) {
	if err := ValidateURL(address); err != nil {
		return nil, err
	}
	if err := person.Validate(); err != nil {
		return nil, fmt.Errorf("姓名无效: %w", err)
	}
	return &CrawlJob{
		ID:        NewID(),
		Address:   address,
		Person:    person,
		Headless:  headless,
		CreatedAt: time.Now(),
		Status:    JobStatusPending,
	}, nil
}

// Start 标记作业开始
func (j *CrawlJob) Start() {
	now := time.Now()
	j.StartedAt = &now
	j.Status = JobStatusRunning
}

// Finish 标记作业结束并汇总结果
func (j *CrawlJob) Finish(status JobStatus, tree *ResultTree) {
	now := time.Now()
	j.CompletedAt = &now
	j.Status = status
	if j.StartedAt != nil {
		j.Duration = now.Sub(*j.StartedAt).Seconds()
	}
	if tree == nil {
		return
	}
	j.Stats = tree.Stats()
	for _, c := range tree.Courts {
		if c.Error != "" && j.ErrorMessage == "" {
			j.ErrorMessage = c.Error
		}
		if j.Court == "" {
			j.Court = c.Name
		}
		if j.Flavor == "" {
			j.Flavor = c.Flavor
		}
	}
}

// ToJSON 序列化为JSON
func (j *CrawlJob) ToJSON() ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}
