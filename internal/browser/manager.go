package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/rpcc"

	"asxreport/internal/logger"
)

// loadIdleWait DOMContentLoaded 之后等待 load 事件的上限
const loadIdleWait = 8 * time.Second

// DefaultUserAgent 桌面 Chrome UA
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Viewport 页面视口
type Viewport struct {
	Width  int
	Height int
	Scale  float64
}

// Options 浏览器配置
type Options struct {
	DevToolsURL       string
	ChromePath        string
	Headless          bool
	NavigationTimeout time.Duration
	PreCloseWait      time.Duration
	Viewport          Viewport
	UserAgent         string
	AcceptLanguage    string
}

// Manager 管理一个 Chrome 实例，每次导航打开独立标签页
type Manager struct {
	opt Options
	log logger.Logger

	mu          sync.Mutex
	devtoolsURL string
	proc        *exec.Cmd
	exited      chan struct{}
	profileDir  string
	lookPath    func(string) (string, error)
}

// New 创建浏览器管理器
func New(opt Options, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	if opt.Viewport.Width == 0 {
		opt.Viewport = Viewport{Width: 1600, Height: 1200, Scale: 2}
	}
	if opt.UserAgent == "" {
		opt.UserAgent = DefaultUserAgent
	}
	if opt.AcceptLanguage == "" {
		opt.AcceptLanguage = "en-AU,en;q=0.9"
	}
	if opt.NavigationTimeout <= 0 {
		opt.NavigationTimeout = 45 * time.Second
	}
	return &Manager{opt: opt, log: l, devtoolsURL: opt.DevToolsURL, lookPath: exec.LookPath}
}

// endpoint 返回 DevTools 地址，必要时启动 Chrome
func (m *Manager) endpoint(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.devtoolsURL != "" {
		if !m.chromeExitedLocked() {
			return m.devtoolsURL, nil
		}
		m.log.Warn("Chrome 进程已退出，重新启动")
		m.cleanupLocked()
	}
	bin, err := resolveChrome(m.opt.ChromePath, m.lookPath)
	if err != nil {
		return "", err
	}
	lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd, dir, url, err := launchChrome(lctx, bin, m.opt.Headless, m.opt.Viewport)
	if err != nil {
		return "", err
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	m.proc, m.exited, m.profileDir, m.devtoolsURL = cmd, exited, dir, url
	m.log.Info("Chrome 已启动", "bin", bin, "devtools", url, "headless", m.opt.Headless)
	return url, nil
}

// Open 确保浏览器可用，未配置 DevTools 地址时启动 Chrome
func (m *Manager) Open(ctx context.Context) error {
	_, err := m.endpoint(ctx)
	return err
}

// Navigate 打开新标签页并导航到 url，返回可探测的页面
func (m *Manager) Navigate(ctx context.Context, url string) (*Page, error) {
	base, err := m.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	dt := devtool.New(base)
	tgt, err := dt.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	conn, err := rpcc.DialContext(ctx, tgt.WebSocketDebuggerURL)
	if err != nil {
		_ = dt.Close(context.Background(), tgt)
		return nil, fmt.Errorf("dial target: %w", err)
	}
	p := &Page{
		dt:           dt,
		target:       tgt,
		conn:         conn,
		client:       cdp.NewClient(conn),
		preCloseWait: m.opt.PreCloseWait,
		log:          m.log.With("target", tgt.ID),
	}
	if err := m.prepare(ctx, p.client); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := m.load(ctx, p, url); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// prepare 设置视口、UA 与语言
func (m *Manager) prepare(ctx context.Context, c *cdp.Client) error {
	if err := c.Page.Enable(ctx); err != nil {
		return fmt.Errorf("enable page domain: %w", err)
	}
	if err := c.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	headers, err := json.Marshal(map[string]string{"Accept-Language": m.opt.AcceptLanguage})
	if err != nil {
		return err
	}
	if err := c.Network.SetExtraHTTPHeaders(ctx, network.NewSetExtraHTTPHeadersArgs(network.Headers(headers))); err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}
	vp := m.opt.Viewport
	if err := c.Emulation.SetDeviceMetricsOverride(ctx,
		emulation.NewSetDeviceMetricsOverrideArgs(vp.Width, vp.Height, vp.Scale, false)); err != nil {
		return fmt.Errorf("set device metrics: %w", err)
	}
	ua := emulation.NewSetUserAgentOverrideArgs(m.opt.UserAgent).SetAcceptLanguage(m.opt.AcceptLanguage)
	if err := c.Emulation.SetUserAgentOverride(ctx, ua); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	return nil
}

// load 导航并等待 DOMContentLoaded，load 事件只做有限等待
func (m *Manager) load(ctx context.Context, p *Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, m.opt.NavigationTimeout)
	defer cancel()
	loadCtx, cancelLoad := context.WithTimeout(ctx, m.opt.NavigationTimeout+loadIdleWait)
	defer cancelLoad()

	domContent, err := p.client.Page.DOMContentEventFired(navCtx)
	if err != nil {
		return err
	}
	defer domContent.Close()
	loadEv, err := p.client.Page.LoadEventFired(loadCtx)
	if err != nil {
		return err
	}
	defer loadEv.Close()

	nav, err := p.client.Page.Navigate(navCtx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if nav.ErrorText != nil && *nav.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *nav.ErrorText)
	}
	if _, err := domContent.Recv(); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("navigate %s: dom content not loaded within %s", url, m.opt.NavigationTimeout)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if _, err := loadEv.Recv(); err != nil {
		p.log.Debug("load 事件未在等待时间内触发", "url", url)
	}
	return nil
}

// Close 关闭由本管理器启动的 Chrome
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
	return nil
}

func (m *Manager) chromeExitedLocked() bool {
	if m.exited == nil {
		return false
	}
	select {
	case <-m.exited:
		return true
	default:
		return false
	}
}

func (m *Manager) cleanupLocked() {
	if m.proc != nil && m.proc.Process != nil {
		_ = m.proc.Process.Kill()
	}
	if m.profileDir != "" {
		_ = os.RemoveAll(m.profileDir)
	}
	if m.proc != nil {
		m.devtoolsURL = m.opt.DevToolsURL
	}
	m.proc, m.exited, m.profileDir = nil, nil, ""
}
