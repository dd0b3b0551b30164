package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"github.com/tidwall/gjson"

	"asxreport/internal/capture"
	"asxreport/internal/logger"
)

// Page 单个标签页
type Page struct {
	dt           *devtool.DevTools
	target       *devtool.Target
	conn         *rpcc.Conn
	client       *cdp.Client
	preCloseWait time.Duration
	log          logger.Logger
}

// evaluate 执行脚本并按值返回结果
func (p *Page) evaluate(ctx context.Context, expr string) (gjson.Result, error) {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return gjson.Result{}, err
	}
	if reply.ExceptionDetails != nil {
		return gjson.Result{}, fmt.Errorf("script exception: %s", reply.ExceptionDetails.Text)
	}
	return gjson.ParseBytes(reply.Result.Value), nil
}

// URL 当前页面地址
func (p *Page) URL(ctx context.Context) (string, error) {
	v, err := p.evaluate(ctx, "location.href")
	if err != nil {
		return "", fmt.Errorf("read final url: %w", err)
	}
	return v.String(), nil
}

// Probe 查找图表容器并滚动到可见位置，未找到时返回空区域
func (p *Page) Probe(ctx context.Context) (capture.Region, error) {
	v, err := p.evaluate(ctx, locateScript)
	if err != nil {
		return capture.Region{}, fmt.Errorf("locate chart: %w", err)
	}
	return parseRegion(v), nil
}

// Screenshot 截取区域 PNG
func (p *Page) Screenshot(ctx context.Context, r capture.Region) ([]byte, error) {
	args := page.NewCaptureScreenshotArgs().
		SetFormat("png").
		SetCaptureBeyondViewport(true).
		SetClip(page.Viewport{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height, Scale: 1})
	shot, err := p.client.Page.CaptureScreenshot(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return shot.Data, nil
}

// Close 等待短暂时间后关闭标签页
func (p *Page) Close() error {
	if p.preCloseWait > 0 {
		time.Sleep(p.preCloseWait)
	}
	err := p.conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := p.dt.Close(ctx, p.target); cerr != nil {
		p.log.Debug("关闭标签页失败", "error", cerr)
	}
	return err
}
