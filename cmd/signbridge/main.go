package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/pretty"

	"signbridge/internal/config"
	"signbridge/internal/logger"
	"signbridge/internal/server"
	"signbridge/pkg/api"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
)

var version = "dev"

const usage = `用法: signbridge [serve|sign|capture] [参数]

  serve    启动 HTTP 签名服务（默认）
  sign     生成一次签名并输出 JSON
  capture  通过浏览器抓取一次真实请求头
`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(args)
	case "sign":
		err = signOnce(args)
	case "capture":
		err = captureOnce(args)
	case "help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		if hint := errs.HintOf(err); hint != "" {
			fmt.Fprintf(os.Stderr, "提示: %s\n", hint)
		}
		os.Exit(1)
	}
}

type common struct {
	configPath string
	envFile    string
	logLevel   string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML 配置文件路径")
	fs.StringVar(&c.envFile, "env", ".env", "环境变量文件")
	fs.StringVar(&c.logLevel, "log-level", "", "覆盖日志级别")
}

func (c *common) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(c.configPath, c.envFile)
	if err != nil {
		return nil, nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	l := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writer:     cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	return cfg, l, nil
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var c common
	c.register(fs)
	addr := fs.String("addr", "", "监听地址，覆盖配置")
	_ = fs.Parse(args)

	cfg, l, err := c.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := api.NewService(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := server.New(server.Options{Addr: cfg.Server.Addr, Version: version}, svc, l)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

type requestFlags struct {
	url      string
	method   string
	data     string
	cookie   string
	endpoint string
	timeout  time.Duration
}

func (r *requestFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.url, "url", "", "接口路径或完整 URL")
	fs.StringVar(&r.method, "method", "GET", "GET 或 POST")
	fs.StringVar(&r.data, "data", "", "JSON 负载")
	fs.StringVar(&r.cookie, "cookie", "", "完整 Cookie 字符串")
	fs.StringVar(&r.endpoint, "debug-endpoint", "", "浏览器调试地址")
	fs.DurationVar(&r.timeout, "timeout", 2*time.Minute, "整体超时")
}

func (r *requestFlags) payload() (json.RawMessage, error) {
	if strings.TrimSpace(r.data) == "" {
		return nil, nil
	}
	if !json.Valid([]byte(r.data)) {
		return nil, errs.InputError("cli.data", "-data 不是合法的 JSON")
	}
	return json.RawMessage(r.data), nil
}

func signOnce(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	var c common
	var r requestFlags
	c.register(fs)
	r.register(fs)
	a1 := fs.String("a1", "", "a1 身份令牌")
	b1 := fs.String("b1", "", "b1 指纹令牌")
	mode := fs.String("mode", "js", "js / browser / auto")
	xsCommon := fs.Bool("xs-common", false, "browser 模式下要求 x-s-common")
	autoB1 := fs.Bool("auto-b1", true, "缺少 b1 时尝试从浏览器读取")
	_ = fs.Parse(args)

	payload, err := r.payload()
	if err != nil {
		return err
	}
	cfg, l, err := c.load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	svc, err := api.NewService(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Sign(ctx, model.SignRequest{
		Method:             model.Method(strings.ToUpper(r.method)),
		URI:                r.url,
		Payload:            payload,
		IdentityToken:      *a1,
		SecondaryToken:     *b1,
		Mode:               model.Mode(*mode),
		NeedXSCommon:       *xsCommon,
		Cookie:             r.cookie,
		DebugEndpoint:      r.endpoint,
		AutoFetchSecondary: *autoB1,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"data": res.Headers, "mode": res.Mode, "degraded": res.Degraded})
}

func captureOnce(args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	var c common
	var r requestFlags
	c.register(fs)
	r.register(fs)
	ua := fs.String("user-agent", "", "启动浏览器时使用的 UA")
	headless := fs.Bool("headless", true, "启动浏览器时是否无头")
	_ = fs.Parse(args)

	payload, err := r.payload()
	if err != nil {
		return err
	}
	cfg, l, err := c.load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	svc, err := api.NewService(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer svc.Close()

	headers, err := svc.CaptureHeaders(ctx, model.CaptureRequest{
		URL:           r.url,
		Method:        model.Method(strings.ToUpper(r.method)),
		Payload:       payload,
		Cookie:        r.cookie,
		DebugEndpoint: r.endpoint,
		UserAgent:     *ua,
		Headless:      headless,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"data": headers, "mode": model.UsedBrowser})
}

func printJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(pretty.Pretty(b))
	return err
}
