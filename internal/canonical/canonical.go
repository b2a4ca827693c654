// Package canonical 将请求规范化为确定性的内容串及其摘要。
package canonical

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"signbridge/pkg/codec"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
)

// ExtractURI 绝对地址只保留路径与查询串，解析失败时原样返回
func ExtractURI(raw string) string {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}

// Content 计算内容串
func Content(method model.Method, uri string, payload []byte) (string, error) {
	uri = ExtractURI(uri)
	switch method {
	case model.MethodGET, "":
		return getContent(uri, payload)
	case model.MethodPOST:
		return postContent(uri, payload), nil
	default:
		return "", errs.InputError("canonical.content", "不支持的请求方法: %q", method)
	}
}

// DValue 内容串的 MD5 十六进制摘要
func DValue(content string) string {
	return codec.MD5Hex([]byte(content))
}

// Encode 同时返回内容串与摘要
func Encode(method model.Method, uri string, payload []byte) (content, dValue string, err error) {
	content, err = Content(method, uri, payload)
	if err != nil {
		return "", "", err
	}
	return content, DValue(content), nil
}

func isAbsent(payload []byte) bool {
	p := strings.TrimSpace(string(payload))
	return p == "" || p == "null"
}

func getContent(uri string, payload []byte) (string, error) {
	base := string(model.MethodGET) + " " + uri
	if isAbsent(payload) {
		return base, nil
	}
	res := gjson.ParseBytes(payload)
	if !res.IsObject() {
		return "", errs.InputError("canonical.get", "GET 参数必须是对象")
	}

	// 重复键以最后一次出现为准
	values := make(map[string]gjson.Result)
	res.ForEach(func(k, v gjson.Result) bool {
		values[k.String()] = v
		return true
	})
	if len(values) == 0 {
		return base, nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(stringify(values[k]), "=", "%3D"))
	}

	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return base + sep + b.String(), nil
}

func postContent(uri string, payload []byte) string {
	body := "{}"
	if !isAbsent(payload) {
		body = Compact(payload)
	}
	return string(model.MethodPOST) + " " + uri + body
}

// Compact 去除 JSON 中无意义的空白，字符串内容与键顺序不变
func Compact(raw []byte) string {
	return string(pretty.Ugly(raw))
}

// stringify 按脚本 String() 的语义输出值
func stringify(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.False:
		return "false"
	case gjson.True:
		return "true"
	case gjson.String:
		return v.Str
	case gjson.Number:
		return formatNumber(v.Num)
	default:
		if v.IsArray() {
			items := v.Array()
			parts := make([]string, len(items))
			for i, it := range items {
				parts[i] = stringify(it)
			}
			return strings.Join(parts, ",")
		}
		return Compact([]byte(v.Raw))
	}
}

// formatNumber 最短十进制表示，极大或极小值使用指数形式
func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		// 1e-07 -> 1e-7
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
