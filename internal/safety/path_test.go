package safety

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	p, err := SafeJoinUnder(root, "var/log/installer/syslog")
	if err != nil {
		t.Fatalf("SafeJoinUnder() error: %v", err)
	}
	if !strings.HasPrefix(p, root) {
		t.Fatalf("%q is not under %q", p, root)
	}
	for _, bad := range []string{"../escape", "/abs/path", "", ".", "a/../../b"} {
		if _, err := SafeJoinUnder(root, bad); err == nil {
			t.Errorf("SafeJoinUnder(%q) succeeded, want error", bad)
		}
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/boot/vmlinuz"); err != nil {
		t.Fatalf("EnsureUnderRoot() error: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../elsewhere"); err == nil {
		t.Fatal("expected escaping path to fail")
	}
}

func TestInTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/etc/hostname", "/target/etc/hostname", true},
		{"etc/apt/apt.conf.d/00IgnoreTimeConflict", "/target/etc/apt/apt.conf.d/00IgnoreTimeConflict", true},
		{"/var/../etc/hosts", "/target/etc/hosts", true},
		{"/../../etc/passwd", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		got, err := InTarget("/target", tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("InTarget(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && got != filepath.FromSlash(tt.want) {
			t.Errorf("InTarget(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadAllWithLimit(t *testing.T) {
	if _, err := ReadAllWithLimit(strings.NewReader("abcd"), 3); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	data, err := ReadAllWithLimit(strings.NewReader("abc"), 3)
	if err != nil || string(data) != "abc" {
		t.Fatalf("ReadAllWithLimit() = %q, %v", data, err)
	}
	if _, err := ReadAllWithLimit(strings.NewReader(""), 0); err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestValidateHTTPURL(t *testing.T) {
	if _, err := ValidateHTTPURL("https://example.com/preseed.yaml"); err != nil {
		t.Errorf("valid URL rejected: %v", err)
	}
	for _, bad := range []string{"ftp://example.com/x", "https://", "https://user:pw@example.com/x"} {
		if _, err := ValidateHTTPURL(bad); err == nil {
			t.Errorf("ValidateHTTPURL(%q) succeeded", bad)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:9000": true,
		"[::1]:80":       true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.5:8080":  false,
	}
	for addr, want := range tests {
		if got := IsLoopbackAddr(addr); got != want {
			t.Errorf("IsLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
