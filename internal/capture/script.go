package capture

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"signbridge/internal/canonical"
	"signbridge/pkg/model"
)

// fetchScript 生成页面内触发请求的脚本，请求在后台发出，脚本立即返回 true
func fetchScript(target string, method model.Method, payload []byte) string {
	opts := map[string]any{
		"method":      string(method),
		"headers":     map[string]string{"Content-Type": "application/json"},
		"credentials": "include",
	}
	p := strings.TrimSpace(string(payload))
	hasPayload := p != "" && p != "null"
	if method == model.MethodPOST && hasPayload {
		opts["body"] = canonical.Compact(payload)
	}
	if method == model.MethodGET && hasPayload {
		target = withQuery(target, payload)
	}
	return "(() => { fetch(" + jsLiteral(target) + ", " + jsLiteral(opts) + ").catch(() => {}); return true; })()"
}

// withQuery 将 GET 参数对象编码后追加到地址上
func withQuery(target string, payload []byte) string {
	res := gjson.ParseBytes(payload)
	if !res.IsObject() {
		return target
	}
	vals := url.Values{}
	res.ForEach(func(k, v gjson.Result) bool {
		if v.IsArray() {
			var parts []string
			for _, it := range v.Array() {
				parts = append(parts, it.String())
			}
			vals.Set(k.String(), strings.Join(parts, ","))
		} else {
			vals.Set(k.String(), v.String())
		}
		return true
	})
	if len(vals) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + vals.Encode()
}

// storageScript 读取 localStorage，缺失时返回空串
func storageScript(key string) string {
	return "(() => { try { return window.localStorage.getItem(" + jsLiteral(key) + ") || ''; } catch (e) { return ''; } })()"
}

// jsLiteral 以 JSON 字面量嵌入脚本，不转义 & < >
func jsLiteral(v any) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
	return strings.TrimSuffix(b.String(), "\n")
}
