package services

import (
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/internal/utils"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	utils.SetJWTSecret("test-secret")
	return NewAuthService(newTestDB(t), &config.JWTConfig{ExpireHour: 2}, &config.LDAPConfig{})
}

func TestAuthService_LocalLogin(t *testing.T) {
	svc := newTestAuthService(t)
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}
	// idempotent
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("second CreateAdminIfNotExists() error = %v", err)
	}

	resp, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin"}, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token == "" || resp.User == nil || resp.User.Role != "admin" {
		t.Fatalf("Login() = %+v", resp)
	}

	claims, err := utils.ParseToken(resp.Token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != resp.User.ID || claims.Username != "admin" {
		t.Errorf("claims = %+v", claims)
	}
	if resp.User.LastLogin == nil {
		t.Error("LastLogin should be set")
	}
}

func TestAuthService_LoginFailures(t *testing.T) {
	svc := newTestAuthService(t)
	svc.CreateAdminIfNotExists()
	hashed, _ := utils.HashPassword("secret1")
	svc.db.Create(&models.User{Username: "gone", Password: hashed, AuthType: AuthTypeLocal, IsActive: true})
	svc.db.Model(&models.User{}).Where("username = ?", "gone").Update("is_active", false)

	tests := []struct {
		name    string
		req     LoginRequest
		wantErr error
	}{
		{"wrong password", LoginRequest{Username: "admin", Password: "nope"}, ErrInvalidCredentials},
		{"unknown user", LoginRequest{Username: "ghost", Password: "admin"}, ErrInvalidCredentials},
		{"disabled", LoginRequest{Username: "gone", Password: "secret1"}, ErrUserDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(&tt.req, "", "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Login() error = %v, expected %v", err, tt.wantErr)
			}
		})
	}

	_, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin", AuthType: "kerberos"}, "", "")
	if KindOf(err) != KindValidation {
		t.Errorf("unknown auth type kind = %q", KindOf(err))
	}
}

func TestAuthService_LDAPDisabled(t *testing.T) {
	svc := newTestAuthService(t)
	if svc.IsLDAPEnabled() {
		t.Error("LDAP should be disabled")
	}
	if _, err := svc.Login(&LoginRequest{Username: "u", Password: "p", AuthType: "LDAP"}, "", ""); err == nil {
		t.Error("LDAP login should fail when disabled")
	}
}

func TestAuthService_ChangePassword(t *testing.T) {
	svc := newTestAuthService(t)
	svc.CreateAdminIfNotExists()
	admin := &models.User{}
	svc.db.Where("username = ?", "admin").First(admin)

	err := svc.ChangePassword(admin.ID, &ChangePasswordRequest{OldPassword: "wrong", NewPassword: "newpass123"})
	if KindOf(err) != KindValidation {
		t.Errorf("wrong old password kind = %q", KindOf(err))
	}

	if err := svc.ChangePassword(admin.ID, &ChangePasswordRequest{OldPassword: "admin", NewPassword: "newpass123"}); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "newpass123"}, "", ""); err != nil {
		t.Errorf("login with new password failed: %v", err)
	}

	if _, err := svc.GetUserByID(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByID(999) error = %v", err)
	}
}

func TestLDAPService_IsEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.LDAPConfig
		want bool
	}{
		{"nil config", nil, false},
		{"disabled", &config.LDAPConfig{Host: "ldap.example.com"}, false},
		{"no host", &config.LDAPConfig{Enabled: true}, false},
		{"enabled", &config.LDAPConfig{Enabled: true, Host: "ldap.example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewLDAPService(tt.cfg).IsEnabled(); got != tt.want {
				t.Errorf("IsEnabled() = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestLDAPUserFromEntry(t *testing.T) {
	entry := ldap.NewEntry("cn=Ana Silva,ou=people,dc=example,dc=com", map[string][]string{
		"cn":             {"Ana Silva"},
		"mail":           {"ana@example.com"},
		"sAMAccountName": {"asilva"},
	})
	user := ldapUserFromEntry(entry)
	if user.Username != "asilva" {
		t.Errorf("Username = %q, expected sAMAccountName fallback", user.Username)
	}
	if user.Email != "ana@example.com" || user.Nickname != "Ana Silva" {
		t.Errorf("ldapUserFromEntry() = %+v", user)
	}
}
