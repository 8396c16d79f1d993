package logger

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestToken(t *testing.T) {
	cases := map[string]string{
		"My Script.js":   "my_script_js",
		"./bin/worker-1": "__bin_worker_1",
		"ALREADYSAFE123": "alreadysafe123",
		"":               "",
		"café au lait!":  "caf__au_lait_",
		"rocket🚀.js":     "rocket___js",
	}
	for in, want := range cases {
		if got := Token(in); got != want {
			t.Errorf("Token(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveDeterministicAndSafe(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	p1, err := Resolve(dir, "My Script.js")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	p2, err := Resolve(dir, "My Script.js")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("not deterministic: %+v vs %+v", p1, p2)
	}
	if p1.Out != filepath.Join(dir, "my_script_js.out.log") || p1.Err != filepath.Join(dir, "my_script_js.err.log") {
		t.Fatalf("unexpected paths: %+v", p1)
	}
	safe := regexp.MustCompile(`^[a-z0-9_]+\.(out|err)\.log$`)
	for _, p := range []string{p1.Out, p1.Err} {
		if !safe.MatchString(filepath.Base(p)) {
			t.Fatalf("unsafe file name %q", filepath.Base(p))
		}
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("log dir not created: %v", err)
	}
}

func TestResolveEmptyDir(t *testing.T) {
	if _, err := Resolve("", "x"); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestOpenAppendKeepsExistingContent(t *testing.T) {
	p, err := Resolve(t.TempDir(), "app")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.Out, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, errF, err := p.OpenAppend()
	if err != nil {
		t.Fatalf("OpenAppend: %v", err)
	}
	_, _ = out.WriteString("second\n")
	_, _ = errF.WriteString("oops\n")
	_ = out.Close()
	_ = errF.Close()

	b, _ := os.ReadFile(p.Out)
	if string(b) != "first\nsecond\n" {
		t.Fatalf("stdout log = %q", string(b))
	}
	b, _ = os.ReadFile(p.Err)
	if string(b) != "oops\n" {
		t.Fatalf("stderr log = %q", string(b))
	}
}
