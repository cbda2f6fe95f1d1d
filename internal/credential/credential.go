// Package credential implements the Credential Reference component (§4.J):
// a named pointer into the external secret store, never a holder of secret
// bytes itself.
package credential

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/secretstore"
	"github.com/brainzlab/vision/internal/store"
)

type Service struct {
	store  *store.Store
	vault  *secretstore.Client
	env    string
}

func New(st *store.Store, vault *secretstore.Client, env string) *Service {
	return &Service{store: st, vault: vault, env: env}
}

// Store creates a credential reference. It never touches the vault itself —
// callers populate the vault separately via SetCredential.
func (s *Service) Store(cred *domain.Credential) *domain.Credential {
	return s.store.CreateCredential(cred)
}

// Fetch resolves a credential's secret value from the vault. Once the
// credential record is found, it bumps use_count and last_used_at whatever
// the outcome (expired, revoked, vault error or success); an unknown ID
// returns the store's error without bumping anything.
func (s *Service) Fetch(ctx context.Context, credentialID, projectToken string) (secretstore.CredentialValue, error) {
	cred, err := s.store.GetCredential(credentialID)
	if err != nil {
		return secretstore.CredentialValue{}, err
	}
	if cred.Expired(time.Now()) {
		_ = s.store.MarkCredentialUsed(credentialID)
		return secretstore.CredentialValue{}, domain.NewForbiddenError("credential expired: "+credentialID, nil)
	}
	if !cred.Active {
		_ = s.store.MarkCredentialUsed(credentialID)
		return secretstore.CredentialValue{}, domain.NewForbiddenError("credential revoked: "+credentialID, nil)
	}

	value, err := s.vault.GetCredential(ctx, cred.Name, cred.ProjectID, s.env, projectToken)
	_ = s.store.MarkCredentialUsed(credentialID)
	if err != nil {
		return secretstore.CredentialValue{}, err
	}
	return value, nil
}

// Test calls Fetch and reports only whether it succeeded, for a
// connectivity-check endpoint that shouldn't leak secret material.
func (s *Service) Test(ctx context.Context, credentialID, projectToken string) error {
	_, err := s.Fetch(ctx, credentialID, projectToken)
	return err
}

// globToRegexp compiles a "*"-wildcard glob into an anchored regexp.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	pattern := "^" + strings.Join(parts, ".*") + "$"
	return regexp.Compile(pattern)
}

// MatchesURL reports whether a credential's service_url_glob matches url,
// returning false (never matching) for an expired credential.
func MatchesURL(cred *domain.Credential, url string, now time.Time) bool {
	if cred.Expired(now) {
		return false
	}
	re, err := globToRegexp(cred.ServiceURLGlob)
	if err != nil {
		return false
	}
	return re.MatchString(url)
}
