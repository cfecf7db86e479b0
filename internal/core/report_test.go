package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RecoveryAshes/courtcrawl/internal/models"
)

func reportJob(t *testing.T) (*models.CrawlJob, *models.ResultTree) {
	t.Helper()
	job, err := models.NewCrawlJob("https://sud.test/", testPerson(t, "Иванов", "Иван"), true)
	if err != nil {
		t.Fatal(err)
	}
	job.Start()

	tree := models.NewResultTree()
	c := tree.Court("Ленинский районный суд")
	c.Address = "https://sud.test"
	c.Flavor = models.FlavorRegular
	v := c.Variant("Иванов И.")
	v.Set("Уголовные дела", "Первая инстанция",
		models.TableCell(`<table><tr><th>Номер</th></tr><tr><td><a href="/case/1">1-1/2024</a></td></tr></table>`, 1))
	v.Set("Уголовные дела", "Апелляция", models.SkippedCell("captcha"))
	v.Set("Административные дела", models.FlatSubcategory, models.ErrorCell("нет ответа"))
	c.Variant("Иванов Иван").Error = "форма не загрузилась"

	job.Finish(models.JobStatusCompleted, tree)
	return job, tree
}

func TestRenderMarkdown(t *testing.T) {
	job, tree := reportJob(t)
	md, err := RenderMarkdown(job, tree)
	if err != nil {
		t.Fatalf("RenderMarkdown() error = %v", err)
	}

	for _, want := range []string{
		"### Ленинский районный суд",
		"#### Иванов И.",
		"##### Уголовные дела",
		"**Первая инстанция**",
		"https://sud.test/case/1",
		"> Пропущено: captcha",
		"> **Ошибка:** нет ответа",
		"> **Ошибка:** форма не загрузилась",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("缺少 %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "**"+models.FlatSubcategory+"**") {
		t.Error("平铺子类别不应输出标题")
	}
	if strings.Index(md, "Первая инстанция") > strings.Index(md, "Апелляция") {
		t.Error("子类别顺序错误")
	}
}

func TestReporterWriteJob(t *testing.T) {
	job, tree := reportJob(t)

	tests := []struct {
		format string
		ext    string
	}{
		{"json", ".json"},
		{"markdown", ".md"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := t.TempDir()
			path, err := NewReporter(dir, tt.format).WriteJob(job, tree)
			if err != nil {
				t.Fatalf("WriteJob() error = %v", err)
			}
			if filepath.Ext(path) != tt.ext {
				t.Errorf("path = %s", path)
			}

			data, err := os.ReadFile(filepath.Join(dir, "jobs", job.ID+".json"))
			if err != nil {
				t.Fatalf("JSON报告未写出: %v", err)
			}
			var decoded struct {
				Job    models.CrawlJob                       `json:"job"`
				Result map[string]map[string]json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("报告不是合法JSON: %v", err)
			}
			if decoded.Job.ID != job.ID {
				t.Errorf("job.id = %s", decoded.Job.ID)
			}
			if _, ok := decoded.Result["Ленинский районный суд"]["Иванов И."]; !ok {
				t.Errorf("结果树缺失: %s", data)
			}
		})
	}
}

func TestReporterWriteBatch(t *testing.T) {
	job, tree := reportJob(t)
	report := models.NewBatchReport(2)
	report.Jobs[0] = models.JobReport{Job: job, Result: tree}
	report.Close()

	dir := t.TempDir()
	path, err := NewReporter(dir, "markdown").WriteBatch(report)
	if err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Пакетная проверка") || !strings.Contains(string(data), "Ленинский районный суд") {
		t.Errorf("批量报告内容错误:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "batch_"+report.ID+".json")); err != nil {
		t.Errorf("批量JSON报告未写出: %v", err)
	}
}
