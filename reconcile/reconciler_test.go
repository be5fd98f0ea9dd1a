package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/internal/fakeclock"
	"github.com/goliatone/go-connect/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStatusSource struct {
	mu      sync.Mutex
	records []connect.ConnectionRecord
	err     error
	calls   int
}

func (s *stubStatusSource) ConnectionStatus(context.Context) ([]connect.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]connect.ConnectionRecord(nil), s.records...), nil
}

func (s *stubStatusSource) set(records []connect.ConnectionRecord, err error) {
	s.mu.Lock()
	s.records = records
	s.err = err
	s.mu.Unlock()
}

func TestRefreshReflectsServerSideRevocation(t *testing.T) {
	clock := fakeclock.New(time.Unix(1_700_000_000, 0))
	source := &stubStatusSource{records: []connect.ConnectionRecord{record("cms", "blog-1")}}
	view := newView(clock)
	rec := reconcile.New(source, view, reconcile.WithClock(clock.Now))

	_, err := rec.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, view.Connected("cms"))

	source.set(nil, nil)
	clock.Advance(time.Second)
	records, err := rec.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.False(t, view.Connected("cms"))
	assert.EqualValues(t, 2, rec.Refreshes())
}

func TestRefreshIsAuthoritativeOverOptimism(t *testing.T) {
	clock := fakeclock.New(time.Unix(1_700_000_000, 0))
	source := &stubStatusSource{records: []connect.ConnectionRecord{record("wix", "site-1")}}
	view := newView(clock)
	rec := reconcile.New(source, view, reconcile.WithClock(clock.Now))

	view.MarkOptimistic("cms", "state-1")
	view.MarkOptimistic("search-analytics", "state-2")

	_, err := rec.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"wix"}, view.Platforms())
}

func TestRefreshFailureKeepsView(t *testing.T) {
	clock := fakeclock.New(time.Unix(1_700_000_000, 0))
	source := &stubStatusSource{records: []connect.ConnectionRecord{record("cms", "blog-1")}}
	view := newView(clock)

	var observed []error
	rec := reconcile.New(source, view,
		reconcile.WithClock(clock.Now),
		reconcile.WithRefreshObserver(func(err error, _ time.Duration) { observed = append(observed, err) }),
	)

	_, err := rec.Refresh(context.Background())
	require.NoError(t, err)

	boom := errors.New("boom")
	source.set(nil, boom)
	_, err = rec.Refresh(context.Background())
	require.ErrorIs(t, err, boom)
	assert.True(t, view.Connected("cms"))
	require.Len(t, observed, 2)
	assert.NoError(t, observed[0])
	assert.ErrorIs(t, observed[1], boom)
}

func TestRefreshRecordsActivity(t *testing.T) {
	clock := fakeclock.New(time.Unix(1_700_000_000, 0))
	source := &stubStatusSource{records: []connect.ConnectionRecord{record("cms", "blog-1")}}

	var events []connect.ActivityEvent
	sink := connect.ActivitySinkFunc(func(_ context.Context, e connect.ActivityEvent) error {
		events = append(events, e)
		return nil
	})
	rec := reconcile.New(source, newView(clock), reconcile.WithClock(clock.Now), reconcile.WithActivitySink(sink))

	_, err := rec.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, connect.ActivityReconcileCompleted, events[0].EventType)
	assert.Equal(t, 1, events[0].Metadata["records"])
}

func TestRunStopsWithContext(t *testing.T) {
	source := &stubStatusSource{}
	rec := reconcile.New(source, reconcile.NewView(), reconcile.WithInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rec.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, rec.Refreshes())
}
