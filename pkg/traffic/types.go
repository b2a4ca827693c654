package traffic

import (
	"sort"
	"strings"
)

// 签名相关的请求头名称
const (
	HeaderXS          = "x-s"
	HeaderXT          = "x-t"
	HeaderXSCommon    = "x-s-common"
	HeaderTraceID     = "x-b3-traceid"
	HeaderCookie      = "cookie"
	HeaderUserAgent   = "user-agent"
	HeaderReferer     = "referer"
	HeaderOrigin      = "origin"
	HeaderRequestID   = "x-request-id"
	HeaderContentType = "content-type"
)

// Header 封装通用的头部操作
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

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Has 判断 Header 是否存在且非空
func (h Header) Has(key string) bool {
	return h.Get(key) != ""
}

// Clone 返回副本
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Merge 用 other 中的非空值覆盖当前值
func (h Header) Merge(other Header) {
	for k, v := range other {
		if v != "" {
			h.Set(k, v)
		}
	}
}

// Keys 返回排序后的键
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Request 中立的请求模型
type Request struct {
	ID           string            // 事务唯一ID
	URL          string            // 完整URL
	Method       string            // HTTP方法
	Headers      Header            // 请求头
	Body         []byte            // 请求体原始数据
	ResourceType string            // 资源类型 (如 Document, XHR)
	Query        map[string]string // 预解析的查询参数
	Cookies      map[string]string // 预解析的Cookie
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{
		Headers: make(Header),
		Query:   make(map[string]string),
		Cookies: make(map[string]string),
	}
}

// ParseCookie 解析 "k=v; k2=v2" 形式的 Cookie 串，保留原始大小写
func ParseCookie(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if kv := strings.SplitN(pair, "=", 2); len(kv) == 2 && kv[0] != "" {
			out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return out
}

// ParseQuery 解析原始查询串，键转小写，只保留第一个值
func ParseQuery(raw string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, "&") {
		if kv := strings.SplitN(pair, "=", 2); len(kv) == 2 {
			k := strings.ToLower(kv[0])
			if _, ok := out[k]; !ok {
				out[k] = kv[1]
			}
		}
	}
	return out
}

// Cookie 待注入浏览器的 Cookie
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// CookiesFor 将 Cookie 串拆成指定域名、根路径下的条目，保持原始顺序
func CookiesFor(raw, domain string) []Cookie {
	var out []Cookie
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		name, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, Cookie{
			Name:   strings.TrimSpace(name),
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
		})
	}
	return out
}
