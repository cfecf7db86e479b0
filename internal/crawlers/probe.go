package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/corpix/uarand"
	"github.com/gocolly/colly/v2"
)

// UnavailableBanner 法院站点"信息暂不可用"横幅文本
const UnavailableBanner = "Информация временно недоступна"

// ProbeOptions 站点探测参数
type ProbeOptions struct {
	Timeout   time.Duration
	UserAgent string
	Headers   models.HeaderProvider
}

// ProbeResult 探测结果
type ProbeResult struct {
	Address     string        `json:"address"`
	Reachable   bool          `json:"reachable"`
	StatusCode  int           `json:"status_code"`
	Title       string        `json:"title,omitempty"`
	Unavailable bool          `json:"unavailable"`
	Reason      string        `json:"reason,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// OK 站点可达且未报告不可用
func (r ProbeResult) OK() bool {
	return r.Reachable && !r.Unavailable
}

// Probe 不启动浏览器的HTTP预检, 用于 verify 命令和批量任务前的快速筛查
type Probe struct {
	opts ProbeOptions
}

// NewProbe 创建探测器
func NewProbe(opts ProbeOptions) *Probe {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Probe{opts: opts}
}

func (p *Probe) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	// 部分法院站点证书过期或自签名
	c.WithTransport(&http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		Proxy:           http.ProxyFromEnvironment,
	})
	c.SetRequestTimeout(p.opts.Timeout)
	return c
}

// Check 请求address并判断站点状态
func (p *Probe) Check(ctx context.Context, address string) ProbeResult {
	result := ProbeResult{Address: address}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	if err := models.ValidateURL(address); err != nil {
		result.Reason = err.Error()
		return result
	}
	if err := ctx.Err(); err != nil {
		result.Reason = err.Error()
		return result
	}

	ua := p.opts.UserAgent
	if ua == "" {
		ua = uarand.GetRandom()
	}

	var extra http.Header
	if p.opts.Headers != nil {
		h, err := p.opts.Headers.GetHeaders()
		if err != nil {
			utils.Warnf("获取请求头失败: %v", err)
		} else {
			extra = h
		}
	}

	c := p.newCollector()
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for name, values := range extra {
			for _, v := range values {
				r.Headers.Add(name, v)
			}
		}
		r.Headers.Set("User-Agent", ua)
		r.Headers.Set("Accept-Language", "ru-RU,ru;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
	})

	c.OnResponse(func(r *colly.Response) {
		result.Reachable = true
		result.StatusCode = r.StatusCode

		body := r.Body
		if enc := r.Headers.Get("Content-Encoding"); enc != "" {
			decompressed, err := decompressResponse(enc, r.Body)
			if err != nil {
				// colly可能已自行解压gzip
				utils.Debugf("解压响应失败 [%s] (编码=%s): %v", address, enc, err)
			} else {
				body = decompressed
			}
		}
		inspectBody(&result, body)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.Reachable = true
			result.StatusCode = r.StatusCode
		}
		result.Reason = err.Error()
	})

	if err := c.Visit(address); err != nil && result.Reason == "" {
		result.Reason = err.Error()
	}

	switch {
	case result.StatusCode == http.StatusBadGateway || result.StatusCode == http.StatusServiceUnavailable:
		result.Unavailable = true
		if result.Reason == "" {
			result.Reason = fmt.Sprintf("HTTP %d", result.StatusCode)
		}
	case result.StatusCode >= 400 && result.Reason == "":
		result.Reason = fmt.Sprintf("HTTP %d", result.StatusCode)
	}

	utils.Debugf("探测完成 [%s]: status=%d, reachable=%v, unavailable=%v",
		address, result.StatusCode, result.Reachable, result.Unavailable)
	return result
}

// inspectBody 提取标题并识别不可用横幅
func inspectBody(result *ProbeResult, body []byte) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}
	result.Title = strings.TrimSpace(doc.Find("title").First().Text())

	if doc.Find(".error_errorer").Length() > 0 || strings.Contains(doc.Text(), UnavailableBanner) {
		result.Unavailable = true
		result.Reason = UnavailableBanner
		return
	}
	if strings.Contains(result.Title, "502") || strings.Contains(result.Title, "503") {
		result.Unavailable = true
		result.Reason = result.Title
	}
}

// decompressResponse 根据Content-Encoding解压响应体
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		out, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return out, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		out, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return out, nil

	case "br":
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return out, nil

	case "", "identity":
		return body, nil

	default:
		return nil, fmt.Errorf("不支持的压缩编码: %s", contentEncoding)
	}
}
