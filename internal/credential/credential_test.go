package credential

import (
	"testing"
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

func TestMatchesURLWildcard(t *testing.T) {
	cred := &domain.Credential{ServiceURLGlob: "https://app.example.com/*"}
	if !MatchesURL(cred, "https://app.example.com/checkout", time.Now()) {
		t.Fatalf("expected glob to match checkout path")
	}
	if MatchesURL(cred, "https://other.example.com/checkout", time.Now()) {
		t.Fatalf("expected glob to reject a different host")
	}
}

func TestMatchesURLExpiredNeverMatches(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	cred := &domain.Credential{ServiceURLGlob: "*", ExpiresAt: &past}
	if MatchesURL(cred, "https://anything", time.Now()) {
		t.Fatalf("expected expired credential to never match")
	}
}
