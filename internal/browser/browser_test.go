package browser

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestLocateScriptEmbedsSelectors(t *testing.T) {
	for _, sel := range ChartSelectors {
		assert.Contains(t, locateScript, sel)
	}
	assert.Contains(t, locateScript, "const minW = 520, minH = 220;")
	assert.Contains(t, locateScript, `"asx - delayed quote"`)
}

func TestParseRegion(t *testing.T) {
	r := parseRegion(gjson.Parse(`{"found":true,"selector":".highcharts-container","x":10.5,"y":320,"width":1180,"height":540,"loading":false}`))
	assert.Equal(t, ".highcharts-container", r.Selector)
	assert.InDelta(t, 10.5, r.X, 0.001)
	assert.InDelta(t, 540, r.Height, 0.001)
	assert.False(t, r.Empty())
	assert.False(t, r.Loading)

	assert.True(t, parseRegion(gjson.Parse(`{"found":false}`)).Empty())
	assert.True(t, parseRegion(gjson.Parse(`null`)).Empty())
}

func TestResolveChrome(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chrome")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := resolveChrome(bin, nil)
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = resolveChrome(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)

	got, err = resolveChrome("", func(name string) (string, error) {
		if name == "chromium" {
			return "/usr/bin/chromium", nil
		}
		return "", errors.New("not found")
	})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/chromium", got)

	if runtime.GOOS != "darwin" {
		_, err = resolveChrome("", func(string) (string, error) { return "", errors.New("not found") })
		assert.ErrorIs(t, err, ErrChromeNotFound)
	}
}

func TestChromeArgs(t *testing.T) {
	vp := Viewport{Width: 1600, Height: 1200, Scale: 2}
	args := chromeArgs("/tmp/profile", false, vp)
	assert.Contains(t, args, "--user-data-dir=/tmp/profile")
	assert.Contains(t, args, "--window-size=1600,1200")
	assert.NotContains(t, args, "--headless=new")
	assert.Equal(t, "about:blank", args[len(args)-1])

	assert.Contains(t, chromeArgs("/tmp/profile", true, vp), "--headless=new")
}

func TestReadActivePort(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "DevToolsActivePort")

	_, err := readActivePort(p)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(p, []byte("9333\n/devtools/browser/abc\n"), 0o644))
	port, err := readActivePort(p)
	require.NoError(t, err)
	assert.Equal(t, 9333, port)

	require.NoError(t, os.WriteFile(p, []byte("nope\n"), 0o644))
	_, err = readActivePort(p)
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	m := New(Options{}, nil)
	assert.Equal(t, 1600, m.opt.Viewport.Width)
	assert.Equal(t, DefaultUserAgent, m.opt.UserAgent)
	assert.NotZero(t, m.opt.NavigationTimeout)
	assert.NoError(t, m.Close())
}
