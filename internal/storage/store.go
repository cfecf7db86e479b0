// Package storage 把作业记录和结果树保存到本地SQLite数据库.
//
// 结果树按 models.ResultTree.Rows 展开为扁平行存储, 读取时用 models.FromRows 重建,
// 行号保证重建后的顺序与原始插入顺序一致.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
	_ "modernc.org/sqlite"
)

// ErrNotFound 作业不存在
var ErrNotFound = errors.New("作业不存在")

// Schema 数据库结构
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	address TEXT NOT NULL,
	court TEXT,
	flavor TEXT,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_address ON jobs(address);

CREATE TABLE IF NOT EXISTS cells (
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	court TEXT NOT NULL,
	address TEXT,
	flavor TEXT,
	variant TEXT,
	category TEXT,
	subcategory TEXT,
	status TEXT,
	html TEXT,
	error TEXT,
	pages INTEGER,
	degraded INTEGER,
	captcha_attempts INTEGER,
	PRIMARY KEY (job_id, seq)
);
`

// Store SQLite结果存储, 可被多个作业并发调用
type Store struct {
	db *sql.DB
}

// Open 打开(必要时创建)数据库文件. path 为 ":memory:" 时使用内存数据库.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置数据库参数失败: %w", err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库结构失败: %w", err)
	}

	utils.Debugf("结果数据库: %s", path)
	return &Store{db: db}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveJob 保存作业记录与结果树. 同一ID重复保存时覆盖.
func (s *Store) SaveJob(ctx context.Context, job *models.CrawlJob, tree *models.ResultTree) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化作业失败: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE job_id = ?`, job.ID); err != nil {
		return fmt.Errorf("清理旧结果失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (id, address, court, flavor, status, created_at, record) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Address, job.Court, string(job.Flavor), string(job.Status), job.CreatedAt.UnixNano(), string(record),
	); err != nil {
		return fmt.Errorf("保存作业失败: %w", err)
	}

	if tree != nil {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO cells
			(job_id, seq, court, address, flavor, variant, category, subcategory, status, html, error, pages, degraded, captcha_attempts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("准备插入语句失败: %w", err)
		}
		defer stmt.Close()

		for i, r := range tree.Rows() {
			if _, err := stmt.ExecContext(ctx,
				job.ID, i, r.Court, r.Address, string(r.Flavor), r.Variant, r.Category, r.Subcategory,
				string(r.Status), r.HTML, r.Error, r.Pages, r.Degraded, r.CaptchaAttempts,
			); err != nil {
				return fmt.Errorf("保存结果行失败: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// LoadJob 读取作业记录与结果树
func (s *Store) LoadJob(ctx context.Context, id string) (*models.CrawlJob, *models.ResultTree, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM jobs WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("读取作业失败: %w", err)
	}

	var job models.CrawlJob
	if err := json.Unmarshal([]byte(record), &job); err != nil {
		return nil, nil, fmt.Errorf("解析作业记录失败: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT court, address, flavor, variant, category, subcategory,
		status, html, error, pages, degraded, captcha_attempts
		FROM cells WHERE job_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("读取结果失败: %w", err)
	}
	defer rows.Close()

	var out []models.ResultRow
	for rows.Next() {
		var (
			r              models.ResultRow
			flavor, status string
		)
		if err := rows.Scan(&r.Court, &r.Address, &flavor, &r.Variant, &r.Category, &r.Subcategory,
			&status, &r.HTML, &r.Error, &r.Pages, &r.Degraded, &r.CaptchaAttempts); err != nil {
			return nil, nil, fmt.Errorf("读取结果行失败: %w", err)
		}
		r.Flavor = models.Flavor(flavor)
		r.Status = models.CellStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("读取结果失败: %w", err)
	}
	return &job, models.FromRows(out), nil
}

// JobSummary 作业列表项
type JobSummary struct {
	ID        string           `json:"id"`
	Address   string           `json:"address"`
	Court     string           `json:"court,omitempty"`
	Flavor    models.Flavor    `json:"flavor,omitempty"`
	Status    models.JobStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// ListJobs 按创建时间倒序列出作业, limit<=0 表示不限制
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobSummary, error) {
	query := `SELECT id, address, court, flavor, status, created_at FROM jobs ORDER BY created_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("列出作业失败: %w", err)
	}
	defer rows.Close()

	jobs := make([]JobSummary, 0)
	for rows.Next() {
		var (
			j              JobSummary
			court, flavor  sql.NullString
			status         string
			createdAtNanos int64
		)
		if err := rows.Scan(&j.ID, &j.Address, &court, &flavor, &status, &createdAtNanos); err != nil {
			return nil, fmt.Errorf("读取作业列表失败: %w", err)
		}
		j.Court = court.String
		j.Flavor = models.Flavor(flavor.String)
		j.Status = models.JobStatus(status)
		j.CreatedAt = time.Unix(0, createdAtNanos)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
