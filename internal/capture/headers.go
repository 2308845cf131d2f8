package capture

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"

	"dytool/internal/logger"
	"dytool/pkg/model"
)

// allowedHeaders 允许从捕获请求带入回放请求的头（小写）
var allowedHeaders = map[string]struct{}{
	"user-agent":      {},
	"referer":         {},
	"cookie":          {},
	"accept":          {},
	"accept-language": {},

	// 站点的动态签名与指纹头
	"x-secsdk-csrf-token":      {},
	"x-tt-passport-csrf-token": {},
	"x-bogus":                  {},
	"x-ms-token":               {},
	"uifid":                    {},
	"sec-ch-ua":                {},
	"sec-ch-ua-mobile":         {},
	"sec-ch-ua-platform":       {},
}

// forbiddenHeaders 由传输层管理，回放时不能手动设置
var forbiddenHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"connection":        {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"transfer-encoding": {},
	"upgrade":           {},
	"te":                {},
	"trailer":           {},
}

// Allowed 请求头是否在白名单内
func Allowed(name string) bool {
	_, ok := allowedHeaders[strings.ToLower(name)]
	return ok
}

// FilterHeaders 只保留白名单内的请求头，名称与值保持原样
func FilterHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(allowedHeaders))
	for k, v := range h {
		if Allowed(k) {
			out[k] = v
		}
	}
	return out
}

// SetHeader 设置单个请求头，无法设置时返回 HeaderSetError
func SetHeader(req *http.Request, name, value string) error {
	if _, ok := forbiddenHeaders[strings.ToLower(name)]; ok {
		return model.NewError(model.ErrHeaderSet, nil, "请求头 %s 不允许手动设置", name)
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return model.NewError(model.ErrHeaderSet, nil, "非法的请求头名称: %q", name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return model.NewError(model.ErrHeaderSet, nil, "请求头 %s 的值非法", name)
	}
	req.Header.Set(name, value)
	return nil
}

// ApplyHeaders 逐个设置请求头，失败的记录警告后跳过，返回成功设置的数量
func ApplyHeaders(req *http.Request, h map[string]string, log logger.Logger) (int, []error) {
	if log == nil {
		log = logger.NewNop()
	}
	var (
		applied int
		errs    []error
	)
	for k, v := range h {
		if err := SetHeader(req, k, v); err != nil {
			log.Warn("设置请求头失败，已跳过", "header", k, "error", err)
			errs = append(errs, err)
			continue
		}
		applied++
	}
	return applied, errs
}
