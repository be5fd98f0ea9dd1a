package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/goliatone/go-connect"
)

type optimistic struct {
	state string
	at    time.Time
}

// ViewOption customizes a View.
type ViewOption func(*View)

// WithViewClock injects a custom clock (useful for tests).
func WithViewClock(clock func() time.Time) ViewOption {
	return func(v *View) {
		if clock != nil {
			v.now = clock
		}
	}
}

// WithOptimisticWindow sets how long an unconfirmed optimistic entry
// counts as connected. It normally equals the reconcile interval.
func WithOptimisticWindow(window time.Duration) ViewOption {
	return func(v *View) {
		if window > 0 {
			v.window = window
		}
	}
}

// View merges the backend's authoritative connection list with optimistic
// entries set from callback messages or redirect markers. The backend
// always wins: an optimistic entry survives only until a status snapshot
// taken after it either confirms or drops it.
type View struct {
	mu        sync.RWMutex
	base      map[string][]connect.ConnectionRecord
	baseAt    time.Time
	hasBase   bool
	overlay   map[string]optimistic
	applied   *expirable.LRU[string, struct{}]
	stale     map[string]time.Time
	window    time.Duration
	now       func() time.Time
	listeners []func()
}

// NewView creates an empty view.
func NewView(opts ...ViewOption) *View {
	v := &View{
		base:    map[string][]connect.ConnectionRecord{},
		overlay: map[string]optimistic{},
		stale:   map[string]time.Time{},
		window:  connect.DefaultReconcileInterval,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	v.applied = expirable.NewLRU[string, struct{}](256, nil, time.Hour)
	return v
}

// OnChange registers fn to run after every change to the connected set.
func (v *View) OnChange(fn func()) {
	if fn == nil {
		return
	}
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

// MarkOptimistic records that platformID was reported connected by the
// attempt identified by state. Repeating a state is a no-op. With an
// empty state the platform itself is the dedupe key. It reports whether
// the entry was recorded.
func (v *View) MarkOptimistic(platformID, state string) bool {
	v.mu.Lock()
	if state != "" {
		if v.applied.Contains(state) {
			v.mu.Unlock()
			return false
		}
		v.applied.Add(state, struct{}{})
	} else if _, exists := v.overlay[platformID]; exists {
		v.mu.Unlock()
		return false
	}

	before := v.connectedLocked(platformID)
	v.overlay[platformID] = optimistic{state: state, at: v.now()}
	delete(v.stale, platformID)
	listeners := v.listenersLocked(!before)
	v.mu.Unlock()

	notify(listeners)
	return true
}

// Replace installs records as the authoritative list. startedAt is when
// the status request was issued; snapshots older than the current base
// are ignored and reported as not applied. Optimistic entries the
// snapshot confirms are folded in; entries older than the snapshot that
// it does not confirm are dropped and flagged stale.
func (v *View) Replace(records []connect.ConnectionRecord, startedAt time.Time) bool {
	v.mu.Lock()
	if v.hasBase && startedAt.Before(v.baseAt) {
		v.mu.Unlock()
		return false
	}

	base := make(map[string][]connect.ConnectionRecord, len(records))
	for _, r := range records {
		base[r.PlatformID] = append(base[r.PlatformID], r)
	}
	v.base = base
	v.baseAt = startedAt
	v.hasBase = true

	now := v.now()
	for pid, entry := range v.overlay {
		switch {
		case len(base[pid]) > 0:
			delete(v.overlay, pid)
		case !entry.at.After(startedAt):
			delete(v.overlay, pid)
			v.stale[pid] = now
		}
	}
	for pid := range v.stale {
		if len(base[pid]) > 0 {
			delete(v.stale, pid)
		}
	}
	listeners := v.listenersLocked(true)
	v.mu.Unlock()

	notify(listeners)
	return true
}

// Connected reports whether platformID is connected, authoritatively or
// optimistically within the window.
func (v *View) Connected(platformID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.connectedLocked(platformID)
}

// Confirmed reports whether the backend lists platformID.
func (v *View) Confirmed(platformID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.base[platformID]) > 0
}

// Platforms returns the connected platform set, sorted.
func (v *View) Platforms() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	set := map[string]struct{}{}
	for pid, recs := range v.base {
		if len(recs) > 0 {
			set[pid] = struct{}{}
		}
	}
	now := v.now()
	for pid, entry := range v.overlay {
		if v.fresh(entry, now) {
			set[pid] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// SitesFor returns the authoritative sites for platformID.
func (v *View) SitesFor(platformID string) []connect.SiteRef {
	v.mu.RLock()
	defer v.mu.RUnlock()
	recs := v.base[platformID]
	out := make([]connect.SiteRef, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.SiteRef())
	}
	return out
}

// Records returns every authoritative record.
func (v *View) Records() []connect.ConnectionRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []connect.ConnectionRecord
	for _, pid := range sortedKeys(keysOf(v.base)) {
		out = append(out, v.base[pid]...)
	}
	return out
}

// Stale returns platforms whose optimistic entry was never confirmed,
// either dropped by a snapshot or timed out waiting for one.
func (v *View) Stale() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	set := map[string]struct{}{}
	for pid := range v.stale {
		set[pid] = struct{}{}
	}
	now := v.now()
	for pid, entry := range v.overlay {
		if !v.fresh(entry, now) {
			set[pid] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// DismissStale clears the stale flag for platformID.
func (v *View) DismissStale(platformID string) {
	v.mu.Lock()
	delete(v.stale, platformID)
	v.mu.Unlock()
}

// LastSnapshotAt returns the start time of the applied snapshot.
func (v *View) LastSnapshotAt() (time.Time, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.baseAt, v.hasBase
}

func (v *View) connectedLocked(platformID string) bool {
	if len(v.base[platformID]) > 0 {
		return true
	}
	entry, ok := v.overlay[platformID]
	return ok && v.fresh(entry, v.now())
}

func (v *View) fresh(entry optimistic, now time.Time) bool {
	return now.Sub(entry.at) <= v.window
}

func (v *View) listenersLocked(changed bool) []func() {
	if !changed {
		return nil
	}
	return append([]func(){}, v.listeners...)
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}

func keysOf(m map[string][]connect.ConnectionRecord) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
