package sandbox

import "testing"

func TestContractValidate(t *testing.T) {
	cases := []struct {
		name     string
		contract Contract
		wantErr  bool
	}{
		{"valid", Contract{WorkspaceRoot: "/workspace", NetworkAllowlist: []string{"api.example.com", "10.0.0.0/8", "192.168.1.5", "db.internal:5432"}}, false},
		{"empty root", Contract{}, true},
		{"relative root", Contract{WorkspaceRoot: "workspace"}, true},
		{"non-canonical root", Contract{WorkspaceRoot: "/workspace/../etc"}, true},
		{"trailing slash", Contract{WorkspaceRoot: "/workspace/"}, true},
		{"filesystem root", Contract{WorkspaceRoot: "/"}, true},
		{"empty allowlist entry", Contract{WorkspaceRoot: "/workspace", NetworkAllowlist: []string{""}}, true},
		{"bad cidr", Contract{WorkspaceRoot: "/workspace", NetworkAllowlist: []string{"10.0.0.0/99"}}, true},
		{"bad host", Contract{WorkspaceRoot: "/workspace", NetworkAllowlist: []string{"-bad-.example"}}, true},
		{"host with spaces", Contract{WorkspaceRoot: "/workspace", NetworkAllowlist: []string{"api example.com"}}, true},
	}
	for _, tc := range cases {
		err := tc.contract.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestReceiptFragmentCarriesNoAllowlistEntries(t *testing.T) {
	c := Contract{WorkspaceRoot: "/workspace", NetworkAllowlist: []string{"internal.example"}}
	frag := c.ReceiptFragment()
	if frag["workspace_root"] != "/workspace" {
		t.Errorf("unexpected workspace root %v", frag["workspace_root"])
	}
	if frag["allowlist_count"] != 1 {
		t.Errorf("unexpected allowlist count %v", frag["allowlist_count"])
	}
}
