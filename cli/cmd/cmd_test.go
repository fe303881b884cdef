package cmd

import (
	"errors"
	"flag"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func newTestCLIContext(t *testing.T, set map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, name := range []string{"trace", "log-level", "run-dir"} {
		fs.String(name, "", "")
	}
	fs.Bool("tui", false, "")
	for name, val := range set {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestResolveString(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"trace": "/tmp/cli.zst"})
	if got := resolveString(c, "trace", "/tmp/config.zst"); got != "/tmp/cli.zst" {
		t.Errorf("explicit flag should win, got %q", got)
	}
	if got := resolveString(c, "log-level", "warn"); got != "warn" {
		t.Errorf("unset flag should fall back to config, got %q", got)
	}
}

func TestRejectTUI(t *testing.T) {
	if err := rejectTUI(newTestCLIContext(t, nil), "status"); err != nil {
		t.Errorf("rejectTUI without --tui = %v", err)
	}
	err := rejectTUI(newTestCLIContext(t, map[string]string{"tui": "true"}), "status")
	var exitCoder cli.ExitCoder
	if !errors.As(err, &exitCoder) || exitCoder.ExitCode() != 1 {
		t.Errorf("rejectTUI with --tui = %v, want exit 1", err)
	}
}
