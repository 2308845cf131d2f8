package download

import (
	"context"
	"net/http"
	"time"
)

// 目标站点要求的固定请求头，缺失时会返回 403
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
	DefaultReferer        = "https://www.douyin.com/"

	secChUA         = `"Not_A Brand";v="8", "Chromium";v="120"`
	secChUAPlatform = `"Windows"`
)

// NewRequest 创建带固定身份头的 GET 请求
func NewRequest(ctx context.Context, rawURL string, opts Options) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", opts.AcceptLanguage)
	req.Header.Set("Referer", opts.Referer)
	req.Header.Set("sec-ch-ua", secChUA)
	req.Header.Set("sec-ch-ua-platform", secChUAPlatform)
	return req, nil
}

// DefaultClient 下载用 HTTP 客户端，不设置整体超时
func DefaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}
