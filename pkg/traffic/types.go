package traffic

import (
	"net/http"
	"strings"
)

// Header 请求头集合，键统一为小写
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Request 浏览上下文中观察到的一次出站请求
type Request struct {
	ID           string // 浏览器内的请求ID
	URL          string
	Method       string
	Headers      Header
	Body         []byte
	ResourceType string // Document, XHR, Fetch ...
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{
		Method:  http.MethodGet,
		Headers: make(Header),
	}
}
