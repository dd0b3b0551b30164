package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asxreport/internal/execx"
)

type fakeEngine struct {
	name    string
	absent  bool
	limit   time.Duration
	block   bool
	err     error
	content []byte
	calls   int
}

func (f *fakeEngine) Name() string           { return f.name }
func (f *fakeEngine) Timeout() time.Duration { return f.limit }

func (f *fakeEngine) Available() error {
	if f.absent {
		return fmt.Errorf("%s missing: %w", f.name, ErrEngineAbsent)
	}
	return nil
}

func (f *fakeEngine) Convert(ctx context.Context, in, dir string) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	out := filepath.Join(dir, strings.TrimSuffix(filepath.Base(in), ".docx")+".pdf")
	return out, os.WriteFile(out, f.content, 0o644)
}

func prefixValidator(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(b, []byte("%PDF")) {
		return errors.New("not a pdf")
	}
	return nil
}

func setup(t *testing.T) (in, out string) {
	t.Helper()
	dir := t.TempDir()
	in = filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(in, []byte("docx"), 0o644))
	return in, filepath.Join(dir, "report.pdf")
}

func newTestChain(engines ...Engine) *Chain {
	c := NewChain(nil, engines...)
	c.validate = prefixValidator
	return c
}

func TestSecondaryUsedWhenPrimaryFails(t *testing.T) {
	in, out := setup(t)
	primary := &fakeEngine{name: "libreoffice", err: errors.New("soffice crashed")}
	secondary := &fakeEngine{name: "word", content: []byte("%PDF-1.7 word")}

	res := newTestChain(primary, secondary).Convert(context.Background(), in, out)

	require.True(t, res.OK())
	assert.Equal(t, "word", res.EngineUsed)
	assert.Equal(t, out, res.OutputPath)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "libreoffice", res.Attempts[0].Engine)
	assert.Contains(t, res.Attempts[0].Err, "soffice crashed")
	assert.Equal(t, "word", res.Attempts[1].Engine)
	assert.Empty(t, res.Attempts[1].Err)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 word", string(b))
	assert.NoDirExists(t, filepath.Join(filepath.Dir(out), StagingDirName))
}

func TestAllEnginesFailLeavesNoFile(t *testing.T) {
	in, out := setup(t)
	require.NoError(t, os.WriteFile(out, []byte("%PDF stale"), 0o644))

	res := newTestChain(
		&fakeEngine{name: "libreoffice", err: errors.New("boom")},
		&fakeEngine{name: "word", content: []byte("garbage")},
	).Convert(context.Background(), in, out)

	assert.False(t, res.OK())
	assert.Empty(t, res.OutputPath)
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[1].Err, "not a pdf")
	assert.NoFileExists(t, out)
	assert.Contains(t, Summary(res.Attempts), "libreoffice: boom")
}

func TestAbsentEngineSkipped(t *testing.T) {
	in, out := setup(t)
	primary := &fakeEngine{name: "libreoffice", absent: true}
	secondary := &fakeEngine{name: "word", content: []byte("%PDF ok")}

	res := newTestChain(primary, secondary).Convert(context.Background(), in, out)

	require.True(t, res.OK())
	assert.True(t, res.Attempts[0].Absent)
	assert.Zero(t, primary.calls)
	assert.Equal(t, "word", res.EngineUsed)
}

func TestEngineTimeout(t *testing.T) {
	in, out := setup(t)
	slow := &fakeEngine{name: "libreoffice", block: true, limit: 30 * time.Millisecond}
	fast := &fakeEngine{name: "word", content: []byte("%PDF fast")}

	start := time.Now()
	res := newTestChain(slow, fast).Convert(context.Background(), in, out)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, res.Attempts, 2)
	assert.True(t, res.Attempts[0].TimedOut)
	assert.Equal(t, "word", res.EngineUsed)
}

func TestCancelledContextStopsChain(t *testing.T) {
	in, out := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	second := &fakeEngine{name: "word", content: []byte("%PDF")}

	res := newTestChain(&fakeEngine{name: "libreoffice", content: []byte("%PDF")}, second).Convert(ctx, in, out)

	assert.False(t, res.OK())
	assert.Len(t, res.Attempts, 1)
	assert.Zero(t, second.calls)
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":               ModeAuto,
		" AUTO ":         ModeAuto,
		"soffice":        ModeLibreOffice,
		"libreoffice":    ModeLibreOffice,
		"primary":        ModeLibreOffice,
		"docx2pdf":       ModeWord,
		"microsoft-word": ModeWord,
		"secondary":      ModeWord,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("pandoc")
	assert.Error(t, err)
}

func TestBuildOrdersEngines(t *testing.T) {
	assert.Equal(t, []string{"libreoffice", "word"}, Build(Options{Mode: ModeAuto}, nil, nil).Engines())
	assert.Equal(t, []string{"libreoffice"}, Build(Options{Mode: ModeLibreOffice}, nil, nil).Engines())
	assert.Equal(t, []string{"word"}, Build(Options{Mode: ModeWord}, nil, nil).Engines())
}

func TestLibreOfficeCommand(t *testing.T) {
	var gotName string
	var gotArgs []string
	runner := execx.Func(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		outdir := args[len(args)-2]
		return nil, os.WriteFile(filepath.Join(outdir, "report.pdf"), []byte("%PDF"), 0o644)
	})
	lo := NewLibreOffice(runner, time.Minute)
	lo.lookPath = func(name string) (string, error) {
		if name == "soffice" {
			return "/usr/bin/soffice", nil
		}
		return "", errors.New("missing")
	}

	dir := t.TempDir()
	produced, err := lo.Convert(context.Background(), "/work/report.docx", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), produced)
	assert.Equal(t, "/usr/bin/soffice", gotName)
	assert.Contains(t, gotArgs, "--headless")
	assert.Contains(t, gotArgs, "--convert-to")
	assert.Equal(t, "/work/report.docx", gotArgs[len(gotArgs)-1])
	assert.True(t, strings.HasPrefix(gotArgs[0], "-env:UserInstallation=file://"))
}

func TestLibreOfficeAbsent(t *testing.T) {
	lo := NewLibreOffice(nil, time.Minute)
	lo.lookPath = func(string) (string, error) { return "", errors.New("missing") }
	home := t.TempDir()
	lo.home = func() (string, error) { return home, nil }
	if _, err := os.Stat(libreOfficeBundles[0]); err == nil {
		t.Skip("LibreOffice installed in /Applications")
	}
	assert.ErrorIs(t, lo.Available(), ErrEngineAbsent)
}

func TestWordAvailability(t *testing.T) {
	w := NewWord(nil, time.Minute)
	w.goos = "linux"
	assert.ErrorIs(t, w.Available(), ErrEngineAbsent)

	w.goos = "darwin"
	w.lookPath = func(string) (string, error) { return "/usr/bin/osascript", nil }
	w.appPath = filepath.Join(t.TempDir(), "Microsoft Word.app")
	assert.ErrorIs(t, w.Available(), ErrEngineAbsent)

	require.NoError(t, os.MkdirAll(w.appPath, 0o755))
	assert.NoError(t, w.Available())
}

func TestWordCommand(t *testing.T) {
	var gotArgs []string
	w := NewWord(execx.Func(func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "osascript", name)
		gotArgs = args
		return nil, nil
	}), time.Minute)

	out, err := w.Convert(context.Background(), "/work/report.docx", "/stage")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/stage", "report.pdf"), out)
	require.Len(t, gotArgs, 4)
	assert.Equal(t, "-e", gotArgs[0])
	assert.Contains(t, gotArgs[1], `tell application "Microsoft Word"`)
	assert.Equal(t, []string{"/work/report.docx", out}, gotArgs[2:])
}
