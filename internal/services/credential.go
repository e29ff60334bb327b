package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/pkg/logger"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// refreshSkew refreshes tokens slightly before they expire.
const refreshSkew = time.Minute

// TokenProvider returns a usable bearer token for a platform, or an error
// wrapping ErrNotConnected when the user has not connected it.
type TokenProvider interface {
	GetValidToken(ctx context.Context, platform models.Platform) (string, error)
}

type CredentialService struct {
	db    *gorm.DB
	oauth *config.OAuthConfig
	now   func() time.Time
}

func NewCredentialService(db *gorm.DB, oauth *config.OAuthConfig) *CredentialService {
	return &CredentialService{db: db, oauth: oauth, now: time.Now}
}

type SaveCredentialRequest struct {
	AccountName  string     `json:"account_name"`
	AccessToken  string     `json:"access_token" binding:"required"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	Expiry       *time.Time `json:"expiry"`
}

type CredentialResponse struct {
	Platform    models.Platform `json:"platform"`
	Connected   bool            `json:"connected"`
	AccountName string          `json:"account_name,omitempty"`
	AccessToken string          `json:"access_token,omitempty"` // masked
	Expiry      *time.Time      `json:"expiry,omitempty"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

// Save stores or replaces the user's credential for platform.
func (s *CredentialService) Save(userID uint, platform models.Platform, req *SaveCredentialRequest) (*models.PlatformCredential, error) {
	if strings.TrimSpace(req.AccessToken) == "" {
		return nil, &models.ValidationError{Field: "access_token", Message: "access token is required"}
	}

	var cred models.PlatformCredential
	err := s.db.Where("user_id = ? AND platform = ?", userID, platform).First(&cred).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cred.UserID = userID
	cred.Platform = platform
	cred.AccountName = req.AccountName
	cred.AccessToken = req.AccessToken
	cred.RefreshToken = req.RefreshToken
	cred.TokenType = req.TokenType
	cred.Expiry = req.Expiry

	if err := s.db.Save(&cred).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

// List reports every platform, connected or not.
func (s *CredentialService) List(userID uint) ([]CredentialResponse, error) {
	var creds []models.PlatformCredential
	if err := s.db.Where("user_id = ?", userID).Find(&creds).Error; err != nil {
		return nil, err
	}
	byPlatform := make(map[models.Platform]models.PlatformCredential, len(creds))
	for _, c := range creds {
		byPlatform[c.Platform] = c
	}

	out := make([]CredentialResponse, 0, len(models.Platforms))
	for _, p := range models.Platforms {
		c, ok := byPlatform[p]
		if !ok {
			out = append(out, CredentialResponse{Platform: p})
			continue
		}
		updated := c.UpdatedAt
		out = append(out, CredentialResponse{
			Platform:    p,
			Connected:   true,
			AccountName: c.AccountName,
			AccessToken: c.MaskAccessToken(),
			Expiry:      c.Expiry,
			UpdatedAt:   &updated,
		})
	}
	return out, nil
}

func (s *CredentialService) Delete(userID uint, platform models.Platform) error {
	return s.db.Where("user_id = ? AND platform = ?", userID, platform).Delete(&models.PlatformCredential{}).Error
}

// ForUser returns the TokenProvider backed by userID's stored credentials.
func (s *CredentialService) ForUser(userID uint) TokenProvider {
	return &userTokens{svc: s, userID: userID}
}

type userTokens struct {
	svc    *CredentialService
	userID uint
}

func (u *userTokens) GetValidToken(ctx context.Context, platform models.Platform) (string, error) {
	return u.svc.validToken(ctx, u.userID, platform)
}

func (s *CredentialService) oauthClient(platform models.Platform) config.OAuthClient {
	if s.oauth == nil {
		return config.OAuthClient{}
	}
	switch platform {
	case models.PlatformAirtable:
		return s.oauth.Airtable
	case models.PlatformAsana:
		return s.oauth.Asana
	case models.PlatformGoogle:
		return s.oauth.Google
	}
	return config.OAuthClient{}
}

func (s *CredentialService) validToken(ctx context.Context, userID uint, platform models.Platform) (string, error) {
	var cred models.PlatformCredential
	err := s.db.WithContext(ctx).Where("user_id = ? AND platform = ?", userID, platform).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotConnected, platform)
	}
	if err != nil {
		return "", err
	}

	if cred.Expiry == nil || cred.Expiry.After(s.now().Add(refreshSkew)) {
		return cred.AccessToken, nil
	}

	client := s.oauthClient(platform)
	if cred.RefreshToken == "" || client.TokenURL == "" {
		return "", fmt.Errorf("%w: %s token expired", ErrNotConnected, platform)
	}

	conf := &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: client.TokenURL},
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       *cred.Expiry,
	}).Token()
	if err != nil {
		logger.Warnf("[Credential] Refresh failed for user %d on %s: %v", userID, platform, err)
		return "", fmt.Errorf("%w: %s refresh failed: %v", ErrNotConnected, platform, err)
	}

	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		cred.TokenType = tok.TokenType
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		cred.Expiry = &exp
	} else {
		cred.Expiry = nil
	}
	if err := s.db.WithContext(ctx).Save(&cred).Error; err != nil {
		logger.Warnf("[Credential] Failed to persist refreshed token for user %d on %s: %v", userID, platform, err)
	}
	logger.Infof("[Credential] Refreshed %s token for user %d", platform, userID)
	return cred.AccessToken, nil
}

// StaticTokens serves fixed tokens, for service accounts and tests.
type StaticTokens map[models.Platform]string

func (t StaticTokens) GetValidToken(_ context.Context, platform models.Platform) (string, error) {
	if tok, ok := t[platform]; ok && tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotConnected, platform)
}
