package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/tables"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
)

// Reporter 报告生成器
type Reporter struct {
	outputDir string
	format    string
}

// NewReporter 创建报告生成器, format 为 json 或 markdown
func NewReporter(outputDir, format string) *Reporter {
	return &Reporter{outputDir: outputDir, format: format}
}

// WriteJob 保存单个作业的报告, 返回主报告路径.
// JSON 总是写出, markdown 格式额外生成同名 .md 文件.
func (r *Reporter) WriteJob(job *models.CrawlJob, tree *models.ResultTree) (string, error) {
	dir := filepath.Join(r.outputDir, "jobs")
	path := filepath.Join(dir, job.ID+".json")
	if err := utils.SaveJSON(path, models.JobReport{Job: job, Result: tree}); err != nil {
		return "", err
	}

	if r.format == "markdown" {
		md, err := RenderMarkdown(job, tree)
		if err != nil {
			return "", err
		}
		mdPath := filepath.Join(dir, job.ID+".md")
		if err := os.WriteFile(mdPath, []byte(md), 0644); err != nil {
			return "", fmt.Errorf("写入报告文件失败: %w", err)
		}
		path = mdPath
	}

	utils.Infof("✅ 报告已生成: %s", path)
	return path, nil
}

// WriteBatch 保存批量报告
func (r *Reporter) WriteBatch(report *models.BatchReport) (string, error) {
	path := filepath.Join(r.outputDir, "batch_"+report.ID+".json")
	if err := utils.SaveJSON(path, report); err != nil {
		return "", err
	}

	if r.format == "markdown" {
		var b strings.Builder
		fmt.Fprintf(&b, "# Пакетная проверка %s\n\n", report.ID)
		fmt.Fprintf(&b, "| Всего | Завершено | Ошибки | Таймаут | Отменено | Время, с |\n")
		fmt.Fprintf(&b, "| --- | --- | --- | --- | --- | --- |\n")
		fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %.1f |\n\n",
			report.Total, report.Completed, report.Failed, report.TimedOut, report.Cancelled, report.Duration)

		for _, jr := range report.Jobs {
			if jr.Job == nil {
				continue
			}
			md, err := RenderMarkdown(jr.Job, jr.Result)
			if err != nil {
				return "", err
			}
			b.WriteString(md)
			b.WriteString("\n---\n\n")
		}

		mdPath := filepath.Join(r.outputDir, "batch_"+report.ID+".md")
		if err := os.WriteFile(mdPath, []byte(b.String()), 0644); err != nil {
			return "", fmt.Errorf("写入报告文件失败: %w", err)
		}
		path = mdPath
	}

	utils.Infof("✅ 批量报告已生成: %s", path)
	return path, nil
}

// RenderMarkdown 把作业结果渲染为Markdown, 标题层级为 法院/变体/类别/子类别
func RenderMarkdown(job *models.CrawlJob, tree *models.ResultTree) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n\n", job.Person.FullName())
	fmt.Fprintf(&b, "- Адрес: %s\n", job.Address)
	fmt.Fprintf(&b, "- Статус: %s\n", job.Status)
	if job.Flavor != "" {
		fmt.Fprintf(&b, "- Тип сайта: %s\n", job.Flavor)
	}
	b.WriteString("\n")

	if tree == nil {
		return b.String(), nil
	}

	for _, c := range tree.Courts {
		fmt.Fprintf(&b, "### %s\n\n", c.Name)
		if c.Error != "" {
			fmt.Fprintf(&b, "> **Ошибка:** %s\n\n", c.Error)
		}
		if c.Degraded {
			b.WriteString("> Часть страниц получена после ошибок сервера.\n\n")
		}

		for _, v := range c.Variants {
			fmt.Fprintf(&b, "#### %s\n\n", v.Query)
			if v.Error != "" {
				fmt.Fprintf(&b, "> **Ошибка:** %s\n\n", v.Error)
			}
			for _, cat := range v.Categories {
				fmt.Fprintf(&b, "##### %s\n\n", cat.Name)
				for _, sub := range cat.Subcategories {
					if sub.Name != models.FlatSubcategory {
						fmt.Fprintf(&b, "**%s**\n\n", sub.Name)
					}
					if err := writeCell(&b, sub.Cell, c.Address); err != nil {
						return "", err
					}
				}
			}
		}
	}
	return b.String(), nil
}

func writeCell(b *strings.Builder, cell models.Cell, domain string) error {
	switch cell.Status {
	case models.CellError:
		fmt.Fprintf(b, "> **Ошибка:** %s\n\n", cell.Error)
	case models.CellSkipped:
		fmt.Fprintf(b, "> Пропущено: %s\n\n", cell.Error)
	default:
		md, err := tables.ToMarkdown(cell.HTML, domain)
		if err != nil {
			return err
		}
		b.WriteString(strings.TrimSpace(md))
		b.WriteString("\n\n")
	}
	return nil
}
