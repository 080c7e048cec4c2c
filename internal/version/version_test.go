package version

import "testing"

func TestString(t *testing.T) {
	origV, origSHA, origTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = origV, origSHA, origTime })

	Version, GitSHA, BuildTime = "dev", "unknown", "unknown"
	if got := String(); got != "dev" {
		t.Errorf("String() = %q, want dev", got)
	}

	Version, GitSHA, BuildTime = "0.3.0", "abc1234", "2026-10-01T00:00:00Z"
	if got, want := String(), "0.3.0 (abc1234, built 2026-10-01T00:00:00Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
