package google

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
	"mailroom_server/pkg/crypto"
)

// Access tokens expiring within this window are refreshed eagerly so
// a token cannot die mid-sync.
const expirySlack = 30 * time.Second

// =============================================================================
// TokenProvider - cached Google access tokens per mailbox credential
// =============================================================================

type TokenProvider struct {
	credentials  out.CredentialRepository
	encryptor    *crypto.Encryptor
	clientID     string
	clientSecret string
}

func NewTokenProvider(credentials out.CredentialRepository, encryptor *crypto.Encryptor, clientID, clientSecret string) *TokenProvider {
	return &TokenProvider{
		credentials:  credentials,
		encryptor:    encryptor,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// AccessToken returns a valid access token for the mailbox's
// credential, decrypting the cached one when fresh and refreshing via
// the OAuth refresh grant otherwise. A refresh token that fails to
// decrypt surfaces as a credential-unavailable error; a stale cached
// access token that fails to decrypt just forces a refresh.
func (p *TokenProvider) AccessToken(ctx context.Context, mailbox *domain.Mailbox) (string, error) {
	cred, err := p.credentials.GetByID(ctx, mailbox.OrganizationID, mailbox.OAuthCredentialID)
	if err != nil {
		return "", err
	}

	aad := crypto.CredentialAAD(cred.OrganizationID.String(), cred.Provider, cred.Subject)

	refreshToken, err := p.encryptor.DecryptString(cred.EncryptedRefreshToken, aad)
	if err != nil {
		return "", apperr.CredentialUnavailable("refresh token cannot be decrypted").WithError(err)
	}

	now := time.Now()
	if len(cred.EncryptedAccessToken) > 0 &&
		cred.AccessTokenExpiresAt != nil &&
		cred.AccessTokenExpiresAt.After(now.Add(expirySlack)) {
		if token, err := p.encryptor.DecryptString(cred.EncryptedAccessToken, aad); err == nil {
			return token, nil
		}
	}

	conf := &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     googleoauth.Endpoint,
	}
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", apperr.OAuthFailed("google", err)
	}

	sealed, err := p.encryptor.EncryptString(token.AccessToken, aad)
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = now.Add(time.Hour)
	}
	cred.EncryptedAccessToken = sealed
	cred.AccessTokenExpiresAt = &expiry
	if err := p.credentials.UpdateAccessToken(ctx, cred); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}
