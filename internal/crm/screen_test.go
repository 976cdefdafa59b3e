package crm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-crm/internal/pipeline"
	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestScreens(port OpportunityPort, enq StageChangeEnqueuer, clock *fakeClock) *Screens {
	return NewScreens(ScreenConfig{
		Port:     port,
		Enqueuer: enq,
		Logger:   discardLogger(),
		PageSize: 10,
		IdleTTL:  10 * time.Minute,
		Now:      clock.Now,
	})
}

func kinds(notices []shared.Notice) []shared.NoticeKind {
	out := make([]shared.NoticeKind, 0, len(notices))
	for _, n := range notices {
		out = append(out, n.Kind)
	}
	return out
}

func TestMountReusesScreenPerSessionAndTenant(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	screens := newTestScreens(newMemPort(), nil, clock)

	a := screens.Mount(ScreenKey{Session: "s1", Tenant: testTenant}, "u1")
	require.Same(t, a, screens.Mount(ScreenKey{Session: "s1", Tenant: testTenant}, "u1"))
	b := screens.Mount(ScreenKey{Session: "s1", Tenant: "other"}, "u1")
	require.NotSame(t, a, b)
	require.Equal(t, 2, screens.Len())

	require.True(t, screens.Unmount(a.Key))
	require.False(t, screens.Unmount(a.Key))
	require.Equal(t, 1, screens.Len())
}

func TestSweepDropsIdleScreens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	screens := newTestScreens(newMemPort(), nil, clock)

	screens.Mount(ScreenKey{Session: "idle", Tenant: testTenant}, "u1")
	clock.Advance(8 * time.Minute)
	screens.Mount(ScreenKey{Session: "busy", Tenant: testTenant}, "u2")
	clock.Advance(5 * time.Minute)

	require.Equal(t, 1, screens.Sweep())
	require.Equal(t, 1, screens.Len())
	require.Zero(t, screens.Sweep())
}

func TestRunStopsWithContext(t *testing.T) {
	screens := newTestScreens(newMemPort(), nil, &fakeClock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		screens.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScreenWithoutTenantShowsNothing(t *testing.T) {
	port := newMemPort()
	port.seed(3, StageProspecting)
	screens := newTestScreens(port, nil, &fakeClock{now: time.Now()})
	screen := screens.Mount(ScreenKey{Session: "s1"}, "u1")

	require.NoError(t, screen.List.Load(context.Background(), 1))
	require.Empty(t, screen.List.Items())
	require.Zero(t, port.calls())
}

func TestBoardDropUpdatesStageAndEnqueuesHistory(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	port := newMemPort()
	rows := port.seed(2, StageProspecting)
	enq := &recordingEnqueuer{}
	screens := newTestScreens(port, enq, clock)
	screen := screens.Mount(ScreenKey{Session: "s1", Tenant: testTenant}, "user-7")
	ctx := context.Background()

	require.NoError(t, screen.List.Load(ctx, 1))
	require.NoError(t, screen.EnsureBoard(ctx))
	screen.Notices.Drain()

	require.NoError(t, screen.Board.Press(ctx, rows[0].ID, pipeline.Point{}))
	active, err := screen.Board.Move(ctx, pipeline.Point{X: 20})
	require.NoError(t, err)
	require.True(t, active)

	outcome, err := screen.Board.Release(ctx, StageNegotiation)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeCommitted, outcome)

	stored, found, err := port.FindByID(ctx, testTenant, rows[0].ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StageNegotiation, stored.Stage)

	for _, opp := range screen.List.Items() {
		if opp.ID == rows[0].ID {
			assert.Equal(t, StageNegotiation, opp.Stage)
		}
	}

	recorded := enq.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, rows[0].ID, recorded[0].OpportunityID)
	assert.Equal(t, testTenant, recorded[0].TenantID)
	assert.Equal(t, string(StageProspecting), recorded[0].FromStage)
	assert.Equal(t, string(StageNegotiation), recorded[0].ToStage)
	assert.Equal(t, "user-7", recorded[0].ChangedBy)
	assert.Equal(t, clock.Now(), recorded[0].ChangedAt)

	notices := screen.Notices.Drain()
	assert.Contains(t, kinds(notices), shared.NoticeLoading)
	assert.Equal(t, shared.Notice{Kind: shared.NoticeSuccess, Message: "Moved to Negotiation."}, notices[len(notices)-1])
}

func TestBoardDropSurvivesEnqueueFailure(t *testing.T) {
	port := newMemPort()
	rows := port.seed(1, StageProspecting)
	enq := &recordingEnqueuer{err: errors.New("redis down")}
	screens := newTestScreens(port, enq, &fakeClock{now: time.Now()})
	screen := screens.Mount(ScreenKey{Session: "s1", Tenant: testTenant}, "u1")
	ctx := context.Background()
	require.NoError(t, screen.EnsureBoard(ctx))

	require.NoError(t, screen.Board.Press(ctx, rows[0].ID, pipeline.Point{}))
	_, err := screen.Board.Move(ctx, pipeline.Point{X: 20})
	require.NoError(t, err)
	outcome, err := screen.Board.Release(ctx, StageClosing)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeCommitted, outcome)
	require.Len(t, enq.recorded(), 1)
}

func TestBoardDropRollsBackOnUpdateFailure(t *testing.T) {
	port := newMemPort()
	rows := port.seed(1, StageProspecting)
	port.updateErr = errors.New("db down")
	enq := &recordingEnqueuer{}
	screens := newTestScreens(port, enq, &fakeClock{now: time.Now()})
	screen := screens.Mount(ScreenKey{Session: "s1", Tenant: testTenant}, "u1")
	ctx := context.Background()
	require.NoError(t, screen.EnsureBoard(ctx))

	require.NoError(t, screen.Board.Press(ctx, rows[0].ID, pipeline.Point{}))
	_, err := screen.Board.Move(ctx, pipeline.Point{X: 20})
	require.NoError(t, err)
	outcome, err := screen.Board.Release(ctx, StageClosing)
	require.Error(t, err)
	require.Equal(t, pipeline.OutcomeRolledBack, outcome)
	require.Empty(t, enq.recorded())

	items := screen.BoardList.Items()
	require.Len(t, items, 1)
	require.Equal(t, StageProspecting, items[0].Stage)
}

func TestEnsureBoardLoadsOnce(t *testing.T) {
	port := newMemPort()
	port.seed(1, StageProspecting)
	screens := newTestScreens(port, nil, &fakeClock{now: time.Now()})
	screen := screens.Mount(ScreenKey{Session: "s1", Tenant: testTenant}, "u1")
	ctx := context.Background()

	require.NoError(t, screen.RefreshBoard(ctx))
	require.Zero(t, port.calls())
	require.NoError(t, screen.EnsureBoard(ctx))
	require.NoError(t, screen.EnsureBoard(ctx))
	require.Equal(t, 1, port.calls())
	require.NoError(t, screen.RefreshBoard(ctx))
	require.Equal(t, 2, port.calls())
}

func TestBoardDropKeepsNewStageWhenRefreshFails(t *testing.T) {
	port := newMemPort()
	rows := port.seed(1, StageProspecting)
	screens := newTestScreens(port, &recordingEnqueuer{}, &fakeClock{now: time.Now()})
	screen := screens.Mount(ScreenKey{Session: "s1", Tenant: testTenant}, "u1")
	ctx := context.Background()
	require.NoError(t, screen.EnsureBoard(ctx))

	require.NoError(t, screen.Board.Press(ctx, rows[0].ID, pipeline.Point{}))
	_, err := screen.Board.Move(ctx, pipeline.Point{X: 20})
	require.NoError(t, err)
	port.findErr = errors.New("read replica down")
	outcome, err := screen.Board.Release(ctx, StageClosing)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeCommitted, outcome)

	stored, _, err := port.FindByID(ctx, testTenant, rows[0].ID)
	require.NoError(t, err)
	require.Equal(t, StageClosing, stored.Stage)
	require.Equal(t, StageProspecting, screen.BoardList.Items()[0].Stage)
	assert.Equal(t, []string{rows[0].ID}, columnIDs(screen.Board.View(), StageClosing))
	assert.Empty(t, columnIDs(screen.Board.View(), StageProspecting))

	port.findErr = nil
	require.NoError(t, screen.Board.Reload(ctx))
	assert.Zero(t, screen.Board.Pending())
	assert.Equal(t, []string{rows[0].ID}, columnIDs(screen.Board.View(), StageClosing))
}

func columnIDs(view pipeline.View[Opportunity], stage pipeline.Stage) []string {
	ids := []string{}
	for _, col := range view.Columns {
		if col.Stage != stage {
			continue
		}
		for _, opp := range col.Items {
			ids = append(ids, opp.ID)
		}
	}
	return ids
}
