package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	cdppage "github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	cdpadapter "signbridge/internal/adapter/cdp"
	"signbridge/internal/capture"
	"signbridge/internal/logger"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

// continueTimeout 单个放行调用的超时
const continueTimeout = 3 * time.Second

type page struct {
	target *devtool.Target
	dt     *devtool.DevTools
	log    logger.Logger

	mu   sync.Mutex
	conn *rpcc.Conn
	cli  *cdp.Client
}

var _ capture.Page = (*page)(nil)

func (p *page) Info(ctx context.Context) (model.TargetInfo, error) {
	p.mu.Lock()
	connected := p.cli != nil
	info := cdpadapter.ToTargetInfo(p.target)
	p.mu.Unlock()
	if !connected {
		return info, nil
	}

	raw, err := p.Evaluate(ctx, `({url: location.href, title: document.title})`)
	if err != nil {
		return info, nil
	}
	var live struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if json.Unmarshal(raw, &live) == nil {
		info.URL, info.Title = live.URL, live.Title
	}
	return info, nil
}

// Navigate 导航并等待 load 事件
func (p *page) Navigate(ctx context.Context, url string) error {
	cli, err := p.client(ctx)
	if err != nil {
		return err
	}
	if err := cli.Page.Enable(ctx); err != nil {
		return errs.Classify("cdp.navigate", err)
	}
	loaded, err := cli.Page.LoadEventFired(ctx)
	if err != nil {
		return errs.Classify("cdp.navigate", err)
	}
	defer loaded.Close()

	reply, err := cli.Page.Navigate(ctx, cdppage.NewNavigateArgs(url))
	if err != nil {
		return errs.Classify("cdp.navigate", err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return errs.PageUnavailableError("cdp.navigate", fmt.Errorf("%s", *reply.ErrorText))
	}
	if _, err := loaded.Recv(); err != nil {
		return errs.Classify("cdp.navigate", err)
	}
	p.mu.Lock()
	p.target.URL = url
	p.mu.Unlock()
	p.log.Debug("页面导航完成", "url", url)
	return nil
}

func (p *page) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	cli, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	args := runtime.NewEvaluateArgs(expr).SetAwaitPromise(true).SetReturnByValue(true)
	reply, err := cli.Runtime.Evaluate(ctx, args)
	if err != nil {
		return nil, errs.Classify("cdp.evaluate", err)
	}
	if reply.ExceptionDetails != nil {
		return nil, fmt.Errorf("脚本执行异常: %s", reply.ExceptionDetails.Text)
	}
	return reply.Result.Value, nil
}

func (p *page) SetCookies(ctx context.Context, cookies []traffic.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	cli, err := p.client(ctx)
	if err != nil {
		return err
	}
	if err := cli.Network.Enable(ctx, nil); err != nil {
		return errs.Classify("cdp.cookies", err)
	}
	return cli.Network.SetCookies(ctx, network.NewSetCookiesArgs(cdpadapter.ToCookieParams(cookies)))
}

// Intercept 启用 Fetch 域，在请求阶段暂停所有请求，回调后立即放行
func (p *page) Intercept(ctx context.Context, fn capture.RequestHandler) (func(), error) {
	cli, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	ictx, cancel := context.WithCancel(ctx)
	paused, err := cli.Fetch.RequestPaused(ictx)
	if err != nil {
		cancel()
		return nil, errs.Classify("cdp.intercept", err)
	}
	pattern := "*"
	patterns := []fetch.RequestPattern{{URLPattern: &pattern, RequestStage: fetch.RequestStageRequest}}
	if err := cli.Fetch.Enable(ctx, fetch.NewEnableArgs().SetPatterns(patterns)); err != nil {
		_ = paused.Close()
		cancel()
		return nil, errs.Classify("cdp.intercept", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev, err := paused.Recv()
			if err != nil {
				return
			}
			fn(cdpadapter.ToNeutralRequest(ev))
			cctx, ccancel := context.WithTimeout(ictx, continueTimeout)
			if err := cli.Fetch.ContinueRequest(cctx, fetch.NewContinueRequestArgs(ev.RequestID)); err != nil {
				p.log.Debug("放行请求失败", "url", ev.Request.URL, "error", err)
			}
			ccancel()
		}
	}()
	p.log.Debug("已启用请求拦截")

	var once sync.Once
	return func() {
		once.Do(func() {
			dctx, dcancel := context.WithTimeout(context.Background(), continueTimeout)
			if err := cli.Fetch.Disable(dctx); err != nil {
				p.log.Debug("关闭请求拦截失败", "error", err)
			}
			dcancel()
			cancel()
			_ = paused.Close()
			<-done
		})
	}, nil
}

// Detach 关闭 WebSocket 连接，页面保持打开
func (p *page) Detach() error {
	p.mu.Lock()
	conn := p.conn
	p.conn, p.cli = nil, nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (p *page) Close() error {
	_ = p.Detach()
	ctx, cancel := context.WithTimeout(context.Background(), continueTimeout)
	defer cancel()
	return p.dt.Close(ctx, p.target)
}
