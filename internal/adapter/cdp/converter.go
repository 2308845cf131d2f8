package cdp

import (
	"strings"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"

	"dytool/pkg/traffic"
)

// ToNeutralRequest 将 Network.requestWillBeSent 事件转换为中立 Request 模型
func ToNeutralRequest(ev *network.RequestWillBeSentReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	if ev.Request.URLFragment != nil {
		req.URL += *ev.Request.URLFragment
	}
	if ev.Request.Method != "" {
		req.Method = ev.Request.Method
	}
	if ev.Type != "" {
		req.ResourceType = string(ev.Type)
	}

	// Headers 是 JSON 对象，值可能不是字符串
	if len(ev.Request.Headers) > 0 {
		gjson.ParseBytes(ev.Request.Headers).ForEach(func(k, v gjson.Result) bool {
			req.Headers.Set(k.String(), v.String())
			return true
		})
	}

	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// CookieHeader 将浏览器 Cookie 拼接为 Cookie 请求头
func CookieHeader(cookies []network.Cookie) string {
	var b strings.Builder
	for i, c := range cookies {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteString("=")
		b.WriteString(c.Value)
	}
	return b.String()
}
