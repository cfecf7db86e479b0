package captcha

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"
)

func TestHTTPSolver(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		status      int
		body        string
		want        string
		wantErr     bool
	}{
		{"JSON text字段", "application/json", 200, `{"text":"a1b2"}`, "a1b2", false},
		{"JSON result字段", "application/json", 200, `{"result":" 77xx "}`, "77xx", false},
		{"纯文本", "text/plain", 200, "k3j4\n", "k3j4", false},
		{"服务错误字段", "application/json", 200, `{"error":"bad image"}`, "", true},
		{"HTTP 500", "text/plain", 500, "oops", "", true},
		{"空结果", "text/plain", 200, "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotModel, gotAuth string
			var gotBody []byte
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotModel = r.URL.Query().Get("model")
				gotAuth = r.Header.Get("Authorization")
				gotBody, _ = io.ReadAll(r.Body)
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewHTTPSolver(srv.URL+"/solve", "yellow", "secret-token", time.Second).Solve(context.Background(), []byte("image"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Solve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Solve() = %q, want %q", got, tt.want)
			}
			if gotModel != "yellow" || gotAuth != "Bearer secret-token" || string(gotBody) != "image" {
				t.Errorf("请求参数不正确: model=%q auth=%q body=%q", gotModel, gotAuth, gotBody)
			}
		})
	}
}

func TestCommandSolver(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat 不可用")
	}

	got, err := (&CommandSolver{Command: "cat", Timeout: time.Second}).Solve(context.Background(), []byte("zx81\nignored\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "zx81" {
		t.Errorf("Solve() = %q, want zx81", got)
	}

	if _, err := (&CommandSolver{Command: "cat"}).Solve(context.Background(), []byte("  \n")); err == nil {
		t.Error("空输出应返回错误")
	}
	if _, err := (&CommandSolver{Command: "/nonexistent/solver"}).Solve(context.Background(), nil); err == nil {
		t.Error("不存在的命令应返回错误")
	}
}
