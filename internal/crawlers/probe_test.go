package crawlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

func TestDecompressResponse(t *testing.T) {
	plain := []byte("<html><title>Суд</title></html>")

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write(plain)
	gw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	bw.Write(plain)
	bw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
		wantErr  bool
	}{
		{"无压缩", "", plain, false},
		{"identity", "identity", plain, false},
		{"gzip", "gzip", gz.Bytes(), false},
		{"brotli", "br", br.Bytes(), false},
		{"大小写与空白", " BR ", br.Bytes(), false},
		{"损坏的gzip", "gzip", []byte("not gzip"), true},
		{"未知编码", "zstd", plain, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decompressResponse(tt.encoding, tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decompressResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, plain) {
				t.Errorf("decompressResponse() = %q, want %q", got, plain)
			}
		})
	}
}

func TestProbeCheck(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		wantReachable   bool
		wantUnavailable bool
		wantTitle       string
	}{
		{
			name:          "正常站点",
			status:        http.StatusOK,
			body:          "<html><head><title>Районный суд</title></head><body></body></html>",
			wantReachable: true,
			wantTitle:     "Районный суд",
		},
		{
			name:            "不可用横幅",
			status:          http.StatusOK,
			body:            "<html><head><title>Суд</title></head><body><p>Информация временно недоступна</p></body></html>",
			wantReachable:   true,
			wantUnavailable: true,
			wantTitle:       "Суд",
		},
		{
			name:            "error_errorer元素",
			status:          http.StatusOK,
			body:            "<html><body><div class='error_errorer'>!</div></body></html>",
			wantReachable:   true,
			wantUnavailable: true,
		},
		{
			name:            "HTTP 503",
			status:          http.StatusServiceUnavailable,
			body:            "<html><head><title>503 Service Unavailable</title></head></html>",
			wantReachable:   true,
			wantUnavailable: true,
			wantTitle:       "503 Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := NewProbe(ProbeOptions{UserAgent: "test-agent"}).Check(context.Background(), srv.URL)
			if res.Reachable != tt.wantReachable {
				t.Errorf("Reachable = %v, want %v (reason=%s)", res.Reachable, tt.wantReachable, res.Reason)
			}
			if res.Unavailable != tt.wantUnavailable {
				t.Errorf("Unavailable = %v, want %v", res.Unavailable, tt.wantUnavailable)
			}
			if res.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", res.Title, tt.wantTitle)
			}
			if res.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", res.StatusCode, tt.status)
			}
		})
	}
}

func TestProbeSendsHeaders(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	res := NewProbe(ProbeOptions{UserAgent: "court-probe/1.0"}).Check(context.Background(), srv.URL)
	if !res.OK() {
		t.Fatalf("预期探测成功: %+v", res)
	}
	if gotUA != "court-probe/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if !strings.HasPrefix(gotLang, "ru-RU") {
		t.Errorf("Accept-Language = %q", gotLang)
	}
}

func TestProbeInvalidAddress(t *testing.T) {
	res := NewProbe(ProbeOptions{}).Check(context.Background(), "not a url")
	if res.Reachable || res.Reason == "" {
		t.Errorf("无效地址应返回原因且不可达: %+v", res)
	}
}

func TestProbeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewProbe(ProbeOptions{}).Check(ctx, "http://127.0.0.1:1")
	if res.Reachable {
		t.Error("取消的上下文不应发起请求")
	}
}

func TestHeaderDict(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "ignored")
	h.Set("Referer", "https://sudrf.ru")
	dict := headerDict(h)
	if len(dict) != 2 || dict[0] != "Referer" || dict[1] != "https://sudrf.ru" {
		t.Errorf("headerDict() = %v", dict)
	}
}
