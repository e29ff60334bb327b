package middleware

import (
	"testing"
)

func TestParseRouteInfo(t *testing.T) {
	tests := []struct {
		path, method   string
		module, action string
	}{
		{"/api/system-config/:key", "PUT", "System Config", "Update"},
		{"/api/submissions/:id/provision", "POST", "Submissions", "Create"},
		{"/api/credentials/:platform", "DELETE", "Credentials", "Delete"},
		{"", "PATCH", "Unknown", "Update"},
	}
	for _, tt := range tests {
		module, action := parseRouteInfo(tt.path, tt.method)
		if module != tt.module || action != tt.action {
			t.Errorf("parseRouteInfo(%q, %q) = %q, %q; expected %q, %q", tt.path, tt.method, module, action, tt.module, tt.action)
		}
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"password", `{"username":"ana","password":"hunter2"}`, `{"password":"***","username":"ana"}`},
		{"tokens", `{"access_token":"a","refresh_token":"r","account_name":"ana"}`, `{"access_token":"***","account_name":"ana","refresh_token":"***"}`},
		{"nested", `{"oauth":{"client_secret":"s"},"notes":"ok"}`, `{"notes":"ok","oauth":{"client_secret":"***"}}`},
		{"empty", ``, ``},
		{"not json", `name=ana`, `[unparsed body]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSensitiveFields([]byte(tt.body)); got != tt.want {
				t.Errorf("maskSensitiveFields() = %s, expected %s", got, tt.want)
			}
		})
	}
}

func TestFormatAuditMessage(t *testing.T) {
	if got := formatAuditMessage("", "POST", "/api/review/***/approve", 200); got != "[Audit] anonymous POST /api/review/***/approve → OK" {
		t.Errorf("formatAuditMessage() = %q", got)
	}
	if got := formatAuditMessage("admin", "PUT", "/api/system-config/x", 404); got != "[Audit] admin PUT /api/system-config/x → Failed" {
		t.Errorf("formatAuditMessage() = %q", got)
	}
}
