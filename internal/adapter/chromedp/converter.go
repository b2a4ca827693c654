// Package chromedp 在 cdproto 事件与中立模型之间转换。
package chromedp

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"

	"signbridge/pkg/traffic"
)

// ToNeutralRequest 将 Fetch.requestPaused 事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.EventRequestPaused) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.ResourceType = string(ev.ResourceType)
	if ev.Request == nil {
		return req
	}
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	for k, v := range ev.Request.Headers {
		switch hv := v.(type) {
		case string:
			req.Headers.Set(k, hv)
		case []string:
			req.Headers.Set(k, strings.Join(hv, ", "))
		default:
			req.Headers.Set(k, fmt.Sprint(hv))
		}
	}
	if _, q, ok := strings.Cut(req.URL, "?"); ok {
		req.Query = traffic.ParseQuery(q)
	}
	if c := req.Headers.Get(traffic.HeaderCookie); c != "" {
		for k, v := range traffic.ParseCookie(c) {
			req.Cookies[strings.ToLower(k)] = v
		}
	}
	return req
}

// ToCookieParams 转换为 network.SetCookies 参数
func ToCookieParams(cs []traffic.Cookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(cs))
	for _, c := range cs {
		out = append(out, &network.CookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return out
}
