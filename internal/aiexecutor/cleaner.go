package aiexecutor

import (
	"context"
	"time"

	"github.com/brainzlab/vision/internal/browsercap"
)

// cleanerTimeout bounds each individual candidate click so one missing
// selector never stalls the whole pass.
const cleanerTimeout = 800 * time.Millisecond

// consentSelectors is a static catalog of common cookie-banner "accept" and
// modal "close" buttons, tried best-effort during the Page Cleaner pass.
var consentSelectors = []string{
	`#onetrust-accept-btn-handler`,
	`.onetrust-close-btn-handler`,
	`#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll`,
	`button[data-testid="cookie-accept"]`,
	`button[aria-label="Accept all"]`,
	`button[aria-label="Accept cookies"]`,
	`#cookie-consent-accept`,
	`.cookie-consent__accept`,
	`.cc-btn.cc-allow`,
	`.qc-cmp2-summary-buttons button[mode="primary"]`,
	`#truste-consent-button`,
	`.fc-cta-consent`,
	`button.accept-cookies`,
	`[id*="cookie"][id*="accept" i]`,
	`[class*="cookie"][class*="accept" i]`,
	`button[aria-label="Close"]`,
	`button[aria-label="Dismiss"]`,
	`.modal-close`,
	`.close-button`,
	`[data-dismiss="modal"]`,
	`.newsletter-popup__close`,
}

// runCleaner tries every candidate selector in turn, ignoring failures: each
// page only ever has a handful of these present, and a miss is expected.
func runCleaner(ctx context.Context, cap browsercap.Capability, sessionID string) {
	for _, sel := range consentSelectors {
		cctx, cancel := context.WithTimeout(ctx, cleanerTimeout)
		_ = cap.PerformAction(cctx, sessionID, browsercap.ActionClick, sel, "", browsercap.ActionOptions{Timeout: cleanerTimeout})
		cancel()
	}
}
