package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// 代理常把示例路径原样传入
var outputDirPlaceholders = []string{
	"/path/to/local/directory",
	"path/to/local/directory",
}

// IsPlaceholder 是否为示例占位路径
func IsPlaceholder(dir string) bool {
	raw := strings.ToLower(strings.TrimRight(strings.ReplaceAll(strings.TrimSpace(dir), `\`, "/"), "/"))
	for _, p := range outputDirPlaceholders {
		if raw == p {
			return true
		}
	}
	return false
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// OutputCandidates 按优先级列出输出目录候选，已去重
func OutputCandidates(requested, fallback string) []string {
	var raw []string
	if r := strings.TrimSpace(requested); r != "" && !IsPlaceholder(r) {
		raw = append(raw, r)
	}
	if fallback == "" {
		fallback = "output"
	}
	raw = append(raw, fallback)
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		raw = append(raw, filepath.Join(home, "Desktop", "asx-mcp-output"))
	}
	raw = append(raw, filepath.Join(os.TempDir(), "asx-mcp-output"))

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		abs, err := filepath.Abs(expandHome(c))
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// writable 创建目录并写入探测文件
func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".asx-write-probe-")
	if err != nil {
		return false
	}
	name := f.Name()
	_, werr := f.WriteString("ok")
	cerr := f.Close()
	_ = os.Remove(name)
	return werr == nil && cerr == nil
}

// ResolveOutputDir 返回第一个可写的候选目录
func ResolveOutputDir(requested, fallback string) (string, error) {
	candidates := OutputCandidates(requested, fallback)
	for _, c := range candidates {
		if writable(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("no writable output directory available, tried: %s", strings.Join(candidates, ", "))
}
