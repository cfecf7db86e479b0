package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
)

func (v *Verifier) capture(ctx context.Context, s crawlers.Session, ch Challenge) ([]byte, error) {
	el, err := s.Find(ctx, ch.Image, v.ElementWait)
	if err != nil {
		if errors.Is(err, crawlers.ErrElementNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrImageMissing, ch.Image)
		}
		return nil, err
	}

	switch ch.Source {
	case ImageDataURI:
		src, ok, err := el.Attribute("src")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: 图片缺少src属性", ErrImageMissing)
		}
		return DecodeDataURI(src)
	default:
		img, err := el.Screenshot()
		if err != nil {
			return nil, fmt.Errorf("验证码截图失败: %w", err)
		}
		if len(img) == 0 {
			return nil, fmt.Errorf("%w: 截图为空", ErrImageMissing)
		}
		return img, nil
	}
}

// DecodeDataURI 解码 "data:image/...;base64,..." 形式的图片
func DecodeDataURI(src string) ([]byte, error) {
	src = strings.ReplaceAll(src, " ", "")
	if !strings.HasPrefix(src, "data:image") {
		return nil, fmt.Errorf("%w: 图片不是base64格式", ErrImageMissing)
	}
	_, payload, ok := strings.Cut(src, ",")
	if !ok || payload == "" {
		return nil, fmt.Errorf("%w: data URI 缺少数据", ErrImageMissing)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64解码失败: %v", ErrImageMissing, err)
	}
	return data, nil
}
