package chromedp

import (
	"testing"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signbridge/pkg/traffic"
)

func TestToNeutralRequest(t *testing.T) {
	ev := &fetch.EventRequestPaused{
		RequestID:    "interception-1",
		ResourceType: network.ResourceTypeXHR,
		Request: &network.Request{
			URL:    "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes?keyword=a&page=1",
			Method: "GET",
			Headers: network.Headers{
				"X-S":        "XYS_abc",
				"X-T":        "1700000000000",
				"Cookie":     "a1=aaa; web_session=s",
				"X-Multiple": []string{"a", "b"},
				"X-Number":   float64(3),
			},
		},
	}

	req := ToNeutralRequest(ev)
	assert.Equal(t, "interception-1", req.ID)
	assert.Equal(t, "XHR", req.ResourceType)
	assert.Equal(t, "XYS_abc", req.Headers.Get(traffic.HeaderXS))
	assert.Equal(t, "a, b", req.Headers.Get("x-multiple"))
	assert.Equal(t, "3", req.Headers.Get("x-number"))
	assert.Equal(t, "a", req.Query["keyword"])
	assert.Equal(t, "s", req.Cookies["web_session"])
}

func TestToNeutralRequestWithoutRequest(t *testing.T) {
	req := ToNeutralRequest(&fetch.EventRequestPaused{RequestID: "x"})
	assert.Equal(t, "x", req.ID)
	assert.Empty(t, req.URL)
}

func TestToCookieParams(t *testing.T) {
	ps := ToCookieParams(traffic.CookiesFor("a1=1; webId=2", ".xiaohongshu.com"))
	require.Len(t, ps, 2)
	assert.Equal(t, "webId", ps[1].Name)
	assert.Equal(t, ".xiaohongshu.com", ps[1].Domain)
	assert.Equal(t, "/", ps[1].Path)
}
