package browser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

var chromeCommands = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

var chromeBundles = []string{
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// ErrChromeNotFound 找不到可用的 Chrome
var ErrChromeNotFound = errors.New("chrome binary not found")

// resolveChrome 查找 Chrome 可执行文件，explicit 非空时只使用它
func resolveChrome(explicit string, lookPath func(string) (string, error)) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("chrome path %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range chromeCommands {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
	}
	if runtime.GOOS == "darwin" {
		home, _ := os.UserHomeDir()
		candidates := append([]string{}, chromeBundles...)
		if home != "" {
			candidates = append(candidates, filepath.Join(home, chromeBundles[0]))
		}
		for _, c := range candidates {
			if st, err := os.Stat(c); err == nil && !st.IsDir() {
				return c, nil
			}
		}
	}
	return "", ErrChromeNotFound
}

// chromeArgs 启动参数，端口 0 由 Chrome 自选并写入 DevToolsActivePort
func chromeArgs(userDataDir string, headless bool, vp Viewport) []string {
	args := []string{
		"--remote-debugging-port=0",
		"--user-data-dir=" + userDataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-blink-features=AutomationControlled",
		"--disable-background-networking",
		fmt.Sprintf("--window-size=%d,%d", vp.Width, vp.Height),
		"--lang=en-AU",
	}
	if headless {
		args = append(args, "--headless=new", "--hide-scrollbars")
	}
	return append(args, "about:blank")
}

// readActivePort 读取 DevToolsActivePort 第一行的端口
func readActivePort(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, fmt.Errorf("%s is empty", path)
	}
	port, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid devtools port in %s", path)
	}
	return port, nil
}

// launchChrome 启动 Chrome 并等待 DevTools 端口可用
func launchChrome(ctx context.Context, bin string, headless bool, vp Viewport) (*exec.Cmd, string, string, error) {
	dir, err := os.MkdirTemp("", "asxreport-chrome-")
	if err != nil {
		return nil, "", "", fmt.Errorf("create chrome profile dir: %w", err)
	}
	cmd := exec.Command(bin, chromeArgs(dir, headless, vp)...)
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, "", "", fmt.Errorf("start chrome: %w", err)
	}

	portFile := filepath.Join(dir, "DevToolsActivePort")
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if port, err := readActivePort(portFile); err == nil {
			return cmd, dir, fmt.Sprintf("http://127.0.0.1:%d", port), nil
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
			_ = os.RemoveAll(dir)
			return nil, "", "", fmt.Errorf("wait for chrome devtools: %w", ctx.Err())
		case <-tick.C:
		}
	}
}
