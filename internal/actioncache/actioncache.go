// Package actioncache implements the Action Cache (§4.G): a memoized table
// of browser actions known to work against a URL pattern, fronted by an
// in-process LRU that remembers the entry ID last seen for each exact key;
// an LRU hit is still confirmed against the store before it is returned.
package actioncache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/store"
)

const (
	defaultTTL  = 24 * time.Hour
	failureInvalidateThreshold = 3
	lruSize     = 4096
)

// Entry is one action to store via Store or BatchStore.
type Entry struct {
	URL        string
	ActionType string
	ActionData map[string]any
}

// Cache wraps the store's action-cache methods with an in-process LRU
// keyed by (project, url_pattern, action_type, instruction_hash).
type Cache struct {
	store *store.Store
	lru   *lru.Cache[string, string] // key -> entry ID
}

func New(st *store.Store) *Cache {
	l, _ := lru.New[string, string](lruSize)
	return &Cache{store: st, lru: l}
}

// URLPattern strips a URL's query and fragment, keeping host + path.
func URLPattern(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.Host + u.Path
}

// InstructionHash returns the 16-hex-char prefix of SHA-256 over instruction,
// or "" if instruction is empty.
func InstructionHash(instruction string) string {
	if instruction == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(instruction))
	return hex.EncodeToString(sum[:])[:16]
}

func lruKey(projectID, pattern, actionType, instructionHash string) string {
	return projectID + "|" + pattern + "|" + actionType + "|" + instructionHash
}

// likeMatch reports whether s matches pattern under SQL-LIKE semantics where
// "%" matches any run of characters (including none); a pattern with no "%"
// must match s exactly.
func likeMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "%") {
		return pattern == s
	}
	parts := strings.Split(pattern, "%")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, mid := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// Store upserts one action. On an existing row it increments success_count,
// refreshes last_used_at/expires_at and overwrites action_data; on a new row
// it starts at success_count = 1.
func (c *Cache) Store(projectID, rawURL, actionType string, actionData map[string]any, instruction string) (*domain.ActionCacheEntry, error) {
	pattern := URLPattern(rawURL)
	hash := InstructionHash(instruction)

	existing, err := c.store.FindActionCacheEntry(projectID, pattern, actionType, hash)
	now := time.Now()
	if err == nil {
		existing.SuccessCount++
		existing.ActionData = actionData
		existing.LastUsedAt = now
		existing.ExpiresAt = now.Add(defaultTTL)
		updated := c.store.PutActionCacheEntry(existing)
		c.lru.Add(lruKey(projectID, pattern, actionType, hash), updated.ID)
		return updated, nil
	}

	created := c.store.PutActionCacheEntry(&domain.ActionCacheEntry{
		ProjectID:       projectID,
		URLPattern:      pattern,
		ActionType:      actionType,
		InstructionHash: hash,
		ActionData:      actionData,
		SuccessCount:    1,
		LastUsedAt:      now,
		ExpiresAt:       now.Add(defaultTTL),
	})
	c.lru.Add(lruKey(projectID, pattern, actionType, hash), created.ID)
	return created, nil
}

// BatchStore groups entries by (pattern, action type) and upserts each group
// in one pass: existing keys accumulate success_count by the group size,
// new keys are inserted with success_count = group size.
func (c *Cache) BatchStore(projectID string, entries []Entry, instruction string) []*domain.ActionCacheEntry {
	hash := InstructionHash(instruction)
	type groupKey struct{ pattern, actionType string }
	groups := make(map[groupKey][]Entry)
	for _, e := range entries {
		k := groupKey{URLPattern(e.URL), e.ActionType}
		groups[k] = append(groups[k], e)
	}

	out := make([]*domain.ActionCacheEntry, 0, len(groups))
	now := time.Now()
	for k, group := range groups {
		lastData := group[len(group)-1].ActionData
		existing, err := c.store.FindActionCacheEntry(projectID, k.pattern, k.actionType, hash)
		if err == nil {
			existing.SuccessCount += len(group)
			existing.ActionData = lastData
			existing.LastUsedAt = now
			existing.ExpiresAt = now.Add(defaultTTL)
			updated := c.store.PutActionCacheEntry(existing)
			c.lru.Add(lruKey(projectID, k.pattern, k.actionType, hash), updated.ID)
			out = append(out, updated)
			continue
		}
		created := c.store.PutActionCacheEntry(&domain.ActionCacheEntry{
			ProjectID:       projectID,
			URLPattern:      k.pattern,
			ActionType:      k.actionType,
			InstructionHash: hash,
			ActionData:      lastData,
			SuccessCount:    len(group),
			LastUsedAt:      now,
			ExpiresAt:       now.Add(defaultTTL),
		})
		c.lru.Add(lruKey(projectID, k.pattern, k.actionType, hash), created.ID)
		out = append(out, created)
	}
	return out
}

// Lookup returns reliable, unexpired entries matching the URL's pattern
// (optionally narrowed by actionType/instruction), highest success_count
// first. With actionType set, the exact (pattern, actionType, instruction)
// key is read from the store and its ID recorded in the LRU; otherwise
// every entry for the project is scanned and matched against
// rawURL's pattern, the way a SQL LIKE over url_pattern would.
func (c *Cache) Lookup(projectID, rawURL, actionType, instruction string) []*domain.ActionCacheEntry {
	pattern := URLPattern(rawURL)
	hash := InstructionHash(instruction)
	now := time.Now()

	if actionType != "" {
		if id, ok := c.lru.Get(lruKey(projectID, pattern, actionType, hash)); ok {
			if e, err := c.store.FindActionCacheEntry(projectID, pattern, actionType, hash); err == nil && e.ID == id && e.Reliable(now) {
				return []*domain.ActionCacheEntry{e}
			}
		}
		e, err := c.store.FindActionCacheEntry(projectID, pattern, actionType, hash)
		if err != nil || !e.Reliable(now) {
			return nil
		}
		c.lru.Add(lruKey(projectID, pattern, actionType, hash), e.ID)
		return []*domain.ActionCacheEntry{e}
	}

	all := c.store.ListActionCacheEntries(projectID)
	matches := make([]*domain.ActionCacheEntry, 0)
	for _, e := range all {
		if !likeMatch(e.URLPattern, pattern) {
			continue
		}
		if instruction != "" && e.InstructionHash != hash {
			continue
		}
		if !e.Reliable(now) {
			continue
		}
		matches = append(matches, e)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].SuccessCount > matches[j].SuccessCount })
	return matches
}

// RecordSuccess increments success_count and updates the rolling average
// duration.
func (c *Cache) RecordSuccess(id string, durationMS int64) (*domain.ActionCacheEntry, error) {
	return c.store.RecordActionOutcome(id, true, durationMS)
}

// RecordFailure increments failure_count and invalidates (deletes) the entry
// once failure_count > 3 AND failure_count > success_count/2.
func (c *Cache) RecordFailure(id string) error {
	updated, err := c.store.RecordActionOutcome(id, false, 0)
	if err != nil {
		return err
	}
	if updated.FailureCount > failureInvalidateThreshold && float64(updated.FailureCount) > float64(updated.SuccessCount)/2 {
		return c.store.DeleteActionCacheEntry(id)
	}
	return nil
}

// CleanupExpired deletes every entry whose expiry has passed.
func (c *Cache) CleanupExpired() int {
	expired := c.store.ListExpiredActionCacheEntries(time.Now())
	for _, e := range expired {
		_ = c.store.DeleteActionCacheEntry(e.ID)
	}
	return len(expired)
}
