package tables

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers/crawlertest"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		notWant []string
	}{
		{
			name:    "去掉样式与事件属性",
			input:   `<table style="width:100%" onclick="go()" width="100" cellpadding="3"><tbody><tr><td style="color:red" colspan="2">Дело 1</td></tr></tbody></table>`,
			want:    []string{`<td colspan="2">Дело 1</td>`, "<table>"},
			notWant: []string{"style", "onclick", "width", "cellpadding"},
		},
		{
			name:    "保留链接与class",
			input:   `<table class="data"><tbody><tr><td><a href="/case?id=1" target="_blank">№1</a></td></tr></tbody></table>`,
			want:    []string{`class="data"`, `href="/case?id=1"`, "№1"},
			notWant: []string{"target"},
		},
		{
			name:    "去掉脚本",
			input:   `<table><tbody><tr><td>А<script>alert(1)</script></td></tr></tbody></table>`,
			want:    []string{"<td>А</td>"},
			notWant: []string{"script", "alert"},
		},
		{
			name:    "非整数colspan被丢弃",
			input:   `<table><tbody><tr><td colspan="x">Б</td></tr></tbody></table>`,
			want:    []string{"<td>Б</td>"},
			notWant: []string{"colspan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.input)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Sanitize() = %q, 缺少 %q", got, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("Sanitize() = %q, 不应包含 %q", got, nw)
				}
			}
		})
	}
}

func TestFromSource(t *testing.T) {
	source := `<html><body>
<table id="other"><tr><td>меню</td></tr></table>
<table id="tablcont" style="border:1px"><tr><th>№ дела</th></tr><tr><td><a href="modules.php?id=5">1-5/2024</a></td></tr></table>
</body></html>`

	got, ok := FromSource(source, "table#tablcont", "https://sud.example.ru/modules.php?name=sud_delo")
	if !ok {
		t.Fatal("应找到表格")
	}
	if strings.Contains(got, "меню") {
		t.Errorf("提取了错误的表格: %s", got)
	}
	if !strings.Contains(got, `href="https://sud.example.ru/modules.php?id=5"`) {
		t.Errorf("链接未转为绝对地址: %s", got)
	}
	if strings.Contains(got, "border") {
		t.Errorf("样式未被清理: %s", got)
	}

	if _, ok := FromSource(source, "table.law-case-table", "https://sud.example.ru/"); ok {
		t.Error("不存在的表格应返回false")
	}
}

func TestAbsolutize(t *testing.T) {
	got, err := Absolutize(`<a href="/a">x</a><a href="https://other.ru/b">y</a>`, "https://sud.ru/list/")
	if err != nil {
		t.Fatalf("Absolutize() error = %v", err)
	}
	if !strings.Contains(got, `href="https://sud.ru/a"`) || !strings.Contains(got, `href="https://other.ru/b"`) {
		t.Errorf("Absolutize() = %s", got)
	}
}

func page(rows ...string) string {
	var sb strings.Builder
	sb.WriteString("<table><tbody><tr><th>№</th><th>Стороны</th></tr>")
	for _, r := range rows {
		sb.WriteString("<tr><td>" + r + "</td><td>Иванов</td></tr>")
	}
	sb.WriteString("</tbody></table>")
	return sb.String()
}

func TestMerge(t *testing.T) {
	t.Run("空列表返回无数据占位符", func(t *testing.T) {
		if got := Merge(nil); got != models.PlaceholderNoData {
			t.Errorf("Merge(nil) = %q", got)
		}
	})

	t.Run("单页原样返回", func(t *testing.T) {
		p := page("1-1/2024")
		if got := Merge([]string{p}); got != p {
			t.Errorf("Merge() = %q, want %q", got, p)
		}
	})

	t.Run("保持页序且跳过重复表头", func(t *testing.T) {
		got := Merge([]string{page("A1", "A2"), page("B1"), page("C1", "C2")})
		order := []string{"A1", "A2", "B1", "C1", "C2"}
		last := -1
		for _, id := range order {
			idx := strings.Index(got, id)
			if idx < 0 {
				t.Fatalf("缺少行 %s: %s", id, got)
			}
			if idx < last {
				t.Errorf("行 %s 顺序错误: %s", id, got)
			}
			last = idx
		}
		if n := strings.Count(got, "<th>№</th>"); n != 1 {
			t.Errorf("表头出现 %d 次, want 1", n)
		}
		if n := strings.Count(got, "<table"); n != 1 {
			t.Errorf("表格出现 %d 次, want 1", n)
		}
	})

	t.Run("无表格的页面不贡献行", func(t *testing.T) {
		got := Merge([]string{page("A1"), "<div>ошибка</div>", "", page("C1")})
		if !strings.Contains(got, "A1") || !strings.Contains(got, "C1") {
			t.Errorf("Merge() = %s", got)
		}
		if strings.Contains(got, "ошибка") {
			t.Errorf("非表格内容被合并: %s", got)
		}
	})

	t.Run("首页无表格时以第一个表格为基础", func(t *testing.T) {
		got := Merge([]string{models.PlaceholderNoData, page("B1"), page("C1")})
		if !strings.HasPrefix(got, "<table") || strings.Index(got, "B1") > strings.Index(got, "C1") {
			t.Errorf("Merge() = %s", got)
		}
	})

	t.Run("全部无表格返回第一个非空内容", func(t *testing.T) {
		got := Merge([]string{"", models.PlaceholderNoCases, models.PlaceholderNoData})
		if got != models.PlaceholderNoCases {
			t.Errorf("Merge() = %q", got)
		}
	})
}

func TestExtract(t *testing.T) {
	spec := Spec{
		Ready:     crawlers.CSS("#tablcont"),
		NoRecords: []crawlers.Locator{crawlers.CSS("#error")},
		Select:    "table#tablcont",
	}

	t.Run("提取表格", func(t *testing.T) {
		p := crawlertest.NewPage("https://sud.ru/r", "Результаты").Add(spec.Ready, crawlertest.El(""))
		p.Source = `<html><body><table id="tablcont" onclick="x()"><tr><td>1-1/2024</td></tr></table></body></html>`
		got, err := Extract(context.Background(), crawlertest.NewSession(p), spec)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if !strings.Contains(got, "1-1/2024") || strings.Contains(got, "onclick") {
			t.Errorf("Extract() = %s", got)
		}
	})

	t.Run("无记录标志返回占位符", func(t *testing.T) {
		p := crawlertest.NewPage("https://sud.ru/r", "").Add(crawlers.CSS("#error"), crawlertest.El("Данных не найдено"))
		got, err := Extract(context.Background(), crawlertest.NewSession(p), spec)
		if err != nil || got != models.PlaceholderNoCases {
			t.Errorf("Extract() = %q, %v", got, err)
		}
	})

	t.Run("超时且无表格返回无数据占位符", func(t *testing.T) {
		p := crawlertest.NewPage("https://sud.ru/r", "")
		p.Source = "<html><body>пусто</body></html>"
		got, err := Extract(context.Background(), crawlertest.NewSession(p), spec)
		if err != nil || got != models.PlaceholderNoData {
			t.Errorf("Extract() = %q, %v", got, err)
		}
	})

	t.Run("严格模式超时返回错误", func(t *testing.T) {
		strict := spec
		strict.Strict = true
		_, err := Extract(context.Background(), crawlertest.NewSession(crawlertest.NewPage("https://sud.ru/r", "")), strict)
		if !errors.Is(err, ErrNotReady) {
			t.Errorf("Extract() error = %v, want ErrNotReady", err)
		}
	})

	t.Run("无记录标志优先于表格标志", func(t *testing.T) {
		p := crawlertest.NewPage("https://sud.ru/r", "").
			Add(crawlers.CSS("#error"), crawlertest.El("")).
			Add(spec.Ready, crawlertest.El(""))
		p.Source = `<table id="tablcont"><tr><td>x</td></tr></table>`
		got, _ := Extract(context.Background(), crawlertest.NewSession(p), spec)
		if got != models.PlaceholderNoCases {
			t.Errorf("Extract() = %q", got)
		}
	})

	t.Run("会话关闭返回错误", func(t *testing.T) {
		s := crawlertest.NewSession(crawlertest.NewPage("https://sud.ru/r", ""))
		s.Close()
		if _, err := Extract(context.Background(), s, spec); err == nil {
			t.Error("应返回错误")
		}
	})
}

func TestToMarkdown(t *testing.T) {
	md, err := ToMarkdown(`<table><tr><th>Номер</th></tr><tr><td><a href="/case/1">1-1/2024</a></td></tr></table>`, "https://sud.ru")
	if err != nil {
		t.Fatalf("ToMarkdown() error = %v", err)
	}
	for _, want := range []string{"Номер", "1-1/2024", "https://sud.ru/case/1", "|"} {
		if !strings.Contains(md, want) {
			t.Errorf("ToMarkdown() = %q, 缺少 %q", md, want)
		}
	}
}
