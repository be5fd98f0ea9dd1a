package orchestrator

import (
	"context"
	"fmt"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/backend"
	"github.com/goliatone/go-connect/reconcile"
)

// Connections is the connection screen: it consumes redirect markers on
// mount, starts attempts, and exposes the reconciled view.
type Connections struct {
	registry   *connect.Registry
	initiator  *Initiator
	reconciler *reconcile.Reconciler
	api        backend.API
	history    History
	logger     connect.Logger
	sink       connect.ActivitySink
}

// NewConnections wires a screen around initiator. history may be nil when
// the location cannot be rewritten.
func NewConnections(initiator *Initiator, history History) *Connections {
	if history == nil {
		history = HistoryFunc(func(string) {})
	}
	return &Connections{
		registry:   initiator.deps.Registry,
		initiator:  initiator,
		reconciler: initiator.deps.Reconciler,
		api:        initiator.deps.Backend,
		history:    history,
		logger:     initiator.logger,
		sink:       initiator.sink,
	}
}

// Mount runs once when the screen loads at location. Connection markers
// left by a redirect callback are read, stripped from the location, and
// successful ones are applied optimistically before the first refresh.
func (c *Connections) Mount(ctx context.Context, location string) ([]MarkerOutcome, error) {
	outcomes, cleaned, err := ConsumeMarkers(location, c.registry)
	if err != nil {
		c.logger.Warn("unreadable connection screen location", "error", err)
	}
	if cleaned != location {
		c.history.ReplaceState(cleaned)
	}

	view := c.reconciler.View()
	for _, o := range outcomes {
		if o.Success {
			view.MarkOptimistic(o.PlatformID, "")
		}
		connect.RecordActivity(ctx, c.sink, c.logger, connect.ActivityEvent{
			EventType:  connect.ActivityMarkerConsumed,
			PlatformID: o.PlatformID,
			Metadata:   map[string]any{"success": o.Success},
		})
	}

	if _, err := c.reconciler.Refresh(ctx); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Connect starts an attempt for platformID.
func (c *Connections) Connect(ctx context.Context, platformID string) (*Attempt, error) {
	return c.initiator.Begin(ctx, platformID)
}

// Refresh reloads the authoritative status.
func (c *Connections) Refresh(ctx context.Context) ([]connect.ConnectionRecord, error) {
	return c.reconciler.Refresh(ctx)
}

// Disconnect removes one record and refreshes. The refresh runs even when
// the backend rejects the disconnect so the view shows the current truth.
func (c *Connections) Disconnect(ctx context.Context, platformID, recordID string) error {
	if !c.registry.Has(platformID) {
		return fmt.Errorf("%w: %s", connect.ErrPlatformNotFound, platformID)
	}
	err := c.api.Disconnect(ctx, platformID, recordID)
	if err == nil {
		connect.RecordActivity(ctx, c.sink, c.logger, connect.ActivityEvent{
			EventType:  connect.ActivityConnectionRemoved,
			PlatformID: platformID,
			Metadata:   map[string]any{"record_id": recordID},
		})
	}
	if _, rerr := c.reconciler.Refresh(ctx); rerr != nil && err == nil {
		c.logger.Warn("refresh after disconnect failed", "platform_id", platformID, "error", rerr)
	}
	return err
}

// Connected reports whether platformID shows as connected.
func (c *Connections) Connected(platformID string) bool {
	return c.reconciler.View().Connected(platformID)
}

// SitesFor returns the sites listed under platformID.
func (c *Connections) SitesFor(platformID string) []connect.SiteRef {
	return c.reconciler.View().SitesFor(platformID)
}

// Platforms returns the connected platform set.
func (c *Connections) Platforms() []string {
	return c.reconciler.View().Platforms()
}

// Stale returns platforms whose optimistic connection was not confirmed.
func (c *Connections) Stale() []string {
	return c.reconciler.View().Stale()
}

// Unmount abandons any live attempt; late results are ignored.
func (c *Connections) Unmount() {
	c.initiator.CancelAll(ReasonNavigatedOut)
}
