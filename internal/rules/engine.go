package rules

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Condition 单个匹配条件
type Condition struct {
	Type    string   `json:"type" yaml:"type"` // url / title / method / header / query / cookie / json
	Mode    string   `json:"mode,omitempty" yaml:"mode"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern"`
	Key     string   `json:"key,omitempty" yaml:"key"`
	Op      string   `json:"op,omitempty" yaml:"op"`
	Value   string   `json:"value,omitempty" yaml:"value"`
	Values  []string `json:"values,omitempty" yaml:"values"`
	Path    string   `json:"path,omitempty" yaml:"path"`
}

// Match 条件组合
type Match struct {
	AllOf  []Condition `json:"allOf,omitempty" yaml:"allOf"`
	AnyOf  []Condition `json:"anyOf,omitempty" yaml:"anyOf"`
	NoneOf []Condition `json:"noneOf,omitempty" yaml:"noneOf"`
}

// Rule 一条规则
type Rule struct {
	ID       string `json:"id" yaml:"id"`
	Priority int    `json:"priority" yaml:"priority"`
	Match    Match  `json:"match" yaml:"match"`
}

// Ctx 评估上下文
type Ctx struct {
	URL     string
	Title   string
	Method  string
	Headers map[string]string
	Query   map[string]string
	Cookies map[string]string
	Body    string
}

// Engine 规则引擎，可并发评估
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

func New(rs ...Rule) *Engine {
	e := &Engine{}
	e.Update(rs...)
	return e
}

// Update 替换规则集，按优先级从高到低排序
func (e *Engine) Update(rs ...Rule) {
	sorted := make([]Rule, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// Eval 返回优先级最高的命中规则，无命中返回 nil
func (e *Engine) Eval(ctx Ctx) *Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := range e.rules {
		if matchRule(ctx, e.rules[i].Match) {
			r := e.rules[i]
			return &r
		}
	}
	return nil
}

// Matches 是否存在命中规则
func (e *Engine) Matches(ctx Ctx) bool { return e.Eval(ctx) != nil }

// Len 规则数量
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// URLContains 地址包含指定片段的规则
func URLContains(id, fragment string) Rule {
	return Rule{ID: id, Match: Match{AllOf: []Condition{{Type: "url", Mode: "contains", Pattern: fragment}}}}
}

// PageOf 地址包含 host 或标题包含任一标记的页面规则
func PageOf(id, host string, titles ...string) Rule {
	conds := []Condition{{Type: "url", Mode: "contains", Pattern: host}}
	for _, t := range titles {
		conds = append(conds, Condition{Type: "title", Mode: "contains", Pattern: t})
	}
	return Rule{ID: id, Match: Match{AnyOf: conds}}
}

func matchRule(ctx Ctx, m Match) bool {
	if len(m.AllOf) == 0 && len(m.AnyOf) == 0 && len(m.NoneOf) == 0 {
		return false
	}
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && !anyOf(ctx, m.NoneOf)
	}
	return ok
}

func allOf(ctx Ctx, cs []Condition) bool {
	for i := range cs {
		if !cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(ctx Ctx, cs []Condition) bool {
	for i := range cs {
		if cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func cond(ctx Ctx, c Condition) bool {
	switch c.Type {
	case "url":
		return matchText(ctx.URL, c.Mode, c.Pattern)
	case "title":
		return matchText(ctx.Title, c.Mode, c.Pattern)
	case "method":
		for _, v := range c.Values {
			if strings.EqualFold(ctx.Method, v) {
				return true
			}
		}
		return false
	case "header":
		return matchKV(ctx.Headers, strings.ToLower(c.Key), c.Op, c.Value)
	case "query":
		return matchKV(ctx.Query, strings.ToLower(c.Key), c.Op, c.Value)
	case "cookie":
		return matchKV(ctx.Cookies, c.Key, c.Op, c.Value)
	case "json":
		if ctx.Body == "" || !gjson.Valid(ctx.Body) {
			return false
		}
		v := gjson.Get(ctx.Body, c.Path)
		if !v.Exists() {
			return false
		}
		return matchOp(v.String(), c.Op, c.Value)
	default:
		return false
	}
}

// matchText 文本匹配，默认按 glob 处理
func matchText(s, mode, pattern string) bool {
	switch mode {
	case "contains":
		return pattern != "" && strings.Contains(s, pattern)
	case "prefix":
		return strings.HasPrefix(s, pattern)
	case "regex":
		return matchRegex(s, pattern)
	case "exact":
		return s == pattern
	default:
		return glob(s, pattern)
	}
}

func matchKV(m map[string]string, key, op, value string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	return matchOp(v, op, value)
}

func matchOp(v, op, value string) bool {
	switch op {
	case "equals":
		return v == value
	case "contains":
		return strings.Contains(v, value)
	case "regex":
		return matchRegex(v, value)
	default:
		return true
	}
}

// regexCache 已编译正则的缓存
var regexCache sync.Map

func matchRegex(s, pattern string) bool {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp).MatchString(s)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	regexCache.Store(pattern, re)
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		return strings.Contains(s, strings.Trim(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}
