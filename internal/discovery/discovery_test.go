package discovery

import "testing"

func TestSplitService(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in        string
		name      string
		proto     string
		wantError bool
	}{
		{in: "_relaybot._tcp", name: "relaybot", proto: "tcp"},
		{in: "_http._tcp.", name: "http", proto: "tcp"},
		{in: "relaybot._tcp", wantError: true},
		{in: "_relaybot.tcp", wantError: true},
		{in: "_relaybot", wantError: true},
		{in: "", wantError: true},
	}
	for _, tt := range tests {
		name, proto, err := splitService(tt.in)
		if tt.wantError {
			if err == nil {
				t.Fatalf("splitService(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("splitService(%q) error: %v", tt.in, err)
		}
		if name != tt.name || proto != tt.proto {
			t.Fatalf("splitService(%q) = (%q, %q), want (%q, %q)", tt.in, name, proto, tt.name, tt.proto)
		}
	}
}
