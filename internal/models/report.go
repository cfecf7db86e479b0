package models

import (
	"encoding/json"
	"time"
)

// JobReport 单个作业的报告
type JobReport struct {
	Job    *CrawlJob   `json:"job"`
	Result *ResultTree `json:"result"`
}

// BatchReport 批量爬取报告
type BatchReport struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Cancelled int `json:"cancelled"`

	// Jobs 与输入顺序一致
	Jobs []JobReport `json:"jobs"`
}

// NewBatchReport 创建批量报告
func NewBatchReport(total int) *BatchReport {
	return &BatchReport{
		ID:        NewID(),
		StartTime: time.Now(),
		Total:     total,
		Jobs:      make([]JobReport, total),
	}
}

// Close 汇总各作业状态
func (r *BatchReport) Close() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime).Seconds()
	r.Completed, r.Failed, r.TimedOut, r.Cancelled = 0, 0, 0, 0
	for _, jr := range r.Jobs {
		if jr.Job == nil {
			continue
		}
		switch jr.Job.Status {
		case JobStatusCompleted:
			r.Completed++
		case JobStatusFailed:
			r.Failed++
		case JobStatusTimedOut:
			r.TimedOut++
		case JobStatusCancelled:
			r.Cancelled++
		}
	}
}

// ToJSON 序列化为JSON
func (r *BatchReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
