package plan

import "testing"

func TestScopeContains(t *testing.T) {
	cases := []struct {
		step, action string
		want         bool
	}{
		{"/tmp/cache/*", "/tmp/cache/old", true},
		{"/tmp/cache/*", "/tmp/cache/a/b", true},
		{"/tmp/cache/**", "/tmp/cache/a/b/c", true},
		{"/tmp/cache/*", "/tmp/cache", true},
		{"/tmp/cache/*", "/tmp/cache-evil", false},
		{"/tmp/cache/*", "/tmp/cachex/old", false},
		{"/tmp/cache/*", "/tmp/cache/../secrets", false},
		{"/tmp/cache/*", "../../etc/passwd", false},
		{"/tmp/cache", "/tmp/cache", true},
		{"/tmp/cache", "/tmp/cache/old", false},
		{"db-prod-*", "db-prod-users", true},
		{"db-prod-*", "db-staging-users", false},
		{"api.internal.example", "api.internal.example", true},
		{"", "/tmp/x", false},
		{"/tmp/*", "", false},
	}
	for _, tc := range cases {
		if got := scopeContains(tc.step, tc.action); got != tc.want {
			t.Errorf("scopeContains(%q, %q) = %v, want %v", tc.step, tc.action, got, tc.want)
		}
	}
}
