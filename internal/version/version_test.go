package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, "seedsig ") {
		t.Errorf("banner %q missing program name", s)
	}
	for _, part := range []string{Version, GitSHA, BuildTime} {
		if !strings.Contains(s, part) {
			t.Errorf("banner %q missing %q", s, part)
		}
	}
}
