package shared

import "testing"

func TestOpenBrowser(t *testing.T) {
	orig := getRuntime
	t.Cleanup(func() { getRuntime = orig })

	getRuntime = func() string { return "plan9" }
	if err := OpenBrowser("http://127.0.0.1:3000/auth/login"); err == nil {
		t.Error("expected error on unsupported platform")
	}
}
