package destination

import "testing"

func TestIsRestartIndicatorMatchesKnownMarkers(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"The BlazingDB server is restarting please try again in a moment.", true},
		{"connection refused", true},
		{"CONNECTION REFUSED", true},
		{"no rows in result set", false},
		{"", false},
	}

	for _, c := range cases {
		if got := isRestartIndicator(c.msg); got != c.want {
			t.Errorf("isRestartIndicator(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}
