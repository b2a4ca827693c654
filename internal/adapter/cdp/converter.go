package cdp

import (
	"encoding/json"
	"strings"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

// ToNeutralRequest 将 CDP 事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)

	// 处理 Header
	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				req.Headers.Set(k, v)
			}
		}
	}
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
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

// ToCookieParams 转换为 Network.setCookies 参数
func ToCookieParams(cs []traffic.Cookie) []network.CookieParam {
	out := make([]network.CookieParam, 0, len(cs))
	for _, c := range cs {
		p := network.CookieParam{Name: c.Name, Value: c.Value}
		if c.Domain != "" {
			domain := c.Domain
			p.Domain = &domain
		}
		if c.Path != "" {
			path := c.Path
			p.Path = &path
		}
		out = append(out, p)
	}
	return out
}

// ToTargetInfo 转换 /json/list 中的目标
func ToTargetInfo(t *devtool.Target) model.TargetInfo {
	return model.TargetInfo{
		ID:    model.TargetID(t.ID),
		Type:  string(t.Type),
		URL:   t.URL,
		Title: t.Title,
	}
}
