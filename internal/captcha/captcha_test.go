package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers/crawlertest"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
)

var (
	imgLoc    = crawlers.CSS(`img[src="/captcha.php"]`)
	inputLoc  = crawlers.CSS(`[name="captcha-response"]`)
	submitLoc = crawlers.CSS(".button-normal")
	formLoc   = crawlers.CSS("#kcaptchaForm")
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestVerifier(solver Solver, max int) *Verifier {
	v := NewVerifier(solver, max)
	v.Sleep = noSleep
	return v
}

// captchaPage 验证码页面; acceptOn>0 时第 acceptOn 次提交跳转到结果页
func captchaPage(acceptOn int) (*crawlertest.Page, *int32) {
	var submits int32
	page := crawlertest.NewPage("http://court/captcha", "Суд")
	result := crawlertest.NewPage("http://court/results", "Результаты")

	img := crawlertest.El("")
	img.Image = []byte("png-bytes")
	submit := crawlertest.El("Отправить")
	submit.OnClick = func(s *crawlertest.Session) error {
		n := atomic.AddInt32(&submits, 1)
		if acceptOn > 0 && int(n) >= acceptOn {
			s.Goto(result)
		}
		return nil
	}
	page.Add(imgLoc, img).
		Add(inputLoc, crawlertest.El("")).
		Add(submitLoc, submit).
		Add(formLoc, crawlertest.El(""))
	return page, &submits
}

func blueChallenge() Challenge {
	return Challenge{
		Image:   imgLoc,
		Source:  ImageScreenshot,
		Input:   inputLoc,
		Submit:  submitLoc,
		Present: func(s crawlers.Session) bool { return s.Has(formLoc) && s.Has(inputLoc) },
	}
}

func countingSolver(calls *int32, answer string) Solver {
	return SolverFunc(func(ctx context.Context, image []byte) (string, error) {
		atomic.AddInt32(calls, 1)
		return answer, nil
	})
}

func TestSolveAlwaysRejected(t *testing.T) {
	for _, max := range []int{1, 3, 15} {
		page, submits := captchaPage(0)
		s := crawlertest.NewSession(page)
		var calls, restarts int32

		ch := blueChallenge()
		ch.Restart = func(context.Context, crawlers.Session) error {
			atomic.AddInt32(&restarts, 1)
			return nil
		}

		res, err := newTestVerifier(countingSolver(&calls, "abcd"), max).Solve(context.Background(), s, ch)
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("max=%d: error = %v, want ErrRejected", max, err)
		}
		if int(calls) != max || int(*submits) != max {
			t.Errorf("max=%d: 识别 %d 次, 提交 %d 次, 不应超过最大尝试次数", max, calls, *submits)
		}
		if int(restarts) != max-1 {
			t.Errorf("max=%d: Restart 调用 %d 次, want %d", max, restarts, max-1)
		}
		if res.Accepted || len(res.Attempts) != max {
			t.Errorf("max=%d: Result = %+v", max, res)
		}
		for _, a := range res.Attempts {
			if a.Outcome != models.CaptchaRejected {
				t.Errorf("Outcome = %s, want rejected", a.Outcome)
			}
		}
	}
}

func TestSolveAcceptedAfterRetries(t *testing.T) {
	page, _ := captchaPage(3)
	s := crawlertest.NewSession(page)
	var calls int32

	res, err := newTestVerifier(countingSolver(&calls, "x7k2"), 15).Solve(context.Background(), s, blueChallenge())
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if !res.Accepted || len(res.Attempts) != 3 {
		t.Fatalf("Result = %+v", res)
	}
	last := res.Attempts[2]
	if last.Outcome != models.CaptchaAccepted || last.Solved != "x7k2" || last.Index != 3 {
		t.Errorf("最后一次尝试 = %+v", last)
	}
	if s.Current().URL != "http://court/results" {
		t.Errorf("当前页面 = %s", s.Current().URL)
	}
}

func TestSolveTypesSolvedText(t *testing.T) {
	page, _ := captchaPage(1)
	input := page.Elements[inputLoc.CSS][0]
	s := crawlertest.NewSession(page)

	if _, err := newTestVerifier(SolverFunc(func(context.Context, []byte) (string, error) {
		return "q9w8", nil
	}), 5).Solve(context.Background(), s, blueChallenge()); err != nil {
		t.Fatal(err)
	}
	if got := input.Typed(); got != "q9w8" {
		t.Errorf("输入框内容 = %q", got)
	}
}

func TestSolveImageMissingNotRetried(t *testing.T) {
	page := crawlertest.NewPage("http://court/captcha", "Суд").Add(inputLoc, crawlertest.El(""))
	var calls int32

	_, err := newTestVerifier(countingSolver(&calls, "abcd"), 15).Solve(context.Background(), crawlertest.NewSession(page), blueChallenge())
	if !errors.Is(err, ErrImageMissing) {
		t.Fatalf("error = %v, want ErrImageMissing", err)
	}
	if calls != 0 {
		t.Errorf("图片缺失时不应调用识别服务, 实际 %d 次", calls)
	}
}

func TestSolveSolverFailure(t *testing.T) {
	page, submits := captchaPage(0)
	boom := errors.New("model offline")

	res, err := newTestVerifier(SolverFunc(func(context.Context, []byte) (string, error) {
		return "", boom
	}), 15).Solve(context.Background(), crawlertest.NewSession(page), blueChallenge())
	if !errors.Is(err, ErrSolverFailed) {
		t.Fatalf("error = %v, want ErrSolverFailed", err)
	}
	if *submits != 0 || len(res.Attempts) != 1 || res.Attempts[0].Outcome != models.CaptchaSolverFailed {
		t.Errorf("识别失败不应重试: submits=%d attempts=%+v", *submits, res.Attempts)
	}
}

func TestSolveNoSolver(t *testing.T) {
	page, _ := captchaPage(1)
	if _, err := newTestVerifier(nil, 3).Solve(context.Background(), crawlertest.NewSession(page), blueChallenge()); !errors.Is(err, ErrSolverFailed) {
		t.Errorf("error = %v, want ErrSolverFailed", err)
	}
}

func TestSolveRejectedMarker(t *testing.T) {
	errLoc := crawlers.CSS("#error")
	page := crawlertest.NewPage("http://court/form", "Суд")
	rejectedPage := crawlertest.NewPage("http://court/form", "Суд").
		Add(errLoc, crawlertest.El("Неверно указан проверочный код с картинки."))

	img := crawlertest.El("").WithAttr("src", "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("img")))
	page.Add(crawlers.CSS("img.captcha"), img).
		Add(crawlers.CSS(`[name="captcha"]`), crawlertest.El("")).
		Add(crawlers.CSS(`[name="Submit"]`), crawlertest.El("Найти").Goes(rejectedPage))

	var seen [][]byte
	solver := SolverFunc(func(_ context.Context, image []byte) (string, error) {
		seen = append(seen, image)
		return "1234", nil
	})
	ch := Challenge{
		Image:  crawlers.CSS("img.captcha"),
		Source: ImageDataURI,
		Input:  crawlers.CSS(`[name="captcha"]`),
		Submit: crawlers.CSS(`[name="Submit"]`),
		Rejected: func(s crawlers.Session) bool {
			return s.Has(errLoc.WithText("Неверно указан проверочный код"))
		},
		Restart: func(ctx context.Context, s crawlers.Session) error {
			return s.Back(ctx)
		},
	}

	_, err := newTestVerifier(solver, 4).Solve(context.Background(), crawlertest.NewSession(page), ch)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
	if len(seen) != 4 || string(seen[0]) != "img" {
		t.Errorf("识别调用 = %d, 首张图片 = %q", len(seen), seen[0])
	}
}

func TestDecodeDataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{"标准data URI", "data:image/png;base64," + payload, false},
		{"含空格", "data:image/png; base64, " + payload, false},
		{"普通地址", "/captcha.php", true},
		{"缺少数据", "data:image/png;base64,", true},
		{"非法base64", "data:image/png;base64,@@@", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDataURI(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeDataURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrImageMissing) {
					t.Errorf("错误应包装 ErrImageMissing: %v", err)
				}
				return
			}
			if string(got) != "\x89PNG" {
				t.Errorf("DecodeDataURI() = %q", got)
			}
		})
	}
}

func TestPoolSerializesCalls(t *testing.T) {
	pool := NewPool(1)
	var active, peak int32
	inner := SolverFunc(func(context.Context, []byte) (string, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return "ok", nil
	})
	blue, yellow := pool.Wrap(inner), pool.Wrap(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		s := blue
		if i%2 == 1 {
			s = yellow
		}
		go func() {
			defer wg.Done()
			if _, err := s.Solve(context.Background(), nil); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Errorf("并发识别峰值 = %d, want 1", peak)
	}
}

func TestPoolRespectsContext(t *testing.T) {
	pool := NewPool(1)
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	s := pool.Wrap(SolverFunc(func(context.Context, []byte) (string, error) {
		once.Do(func() { close(started) })
		<-block
		return "ok", nil
	}))
	go s.Solve(context.Background(), nil)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Solve(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
	close(block)
}
