package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeSource struct {
	mu    sync.Mutex
	items []card
}

func (s *fakeSource) Items() []card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]card(nil), s.items...)
}

func (s *fakeSource) set(items []card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

type fakeMover struct {
	source    *fakeSource
	server    []card
	err       error
	reloadErr error
	// stale leaves the source untouched after a successful move, as when
	// the refresh that follows the write fails.
	stale   bool
	entered chan struct{}
	proceed chan struct{}

	mu      sync.Mutex
	moves   []Drop
	reloads int
}

func (m *fakeMover) MoveStage(ctx context.Context, id string, to Stage) error {
	m.mu.Lock()
	m.moves = append(m.moves, Drop{ItemID: id, To: to})
	m.mu.Unlock()
	if m.entered != nil {
		close(m.entered)
		<-m.proceed
	}
	if m.err != nil {
		return m.err
	}
	for i := range m.server {
		if m.server[i].ID == id {
			m.server[i].Stage = to
		}
	}
	if !m.stale {
		m.source.set(append([]card(nil), m.server...))
	}
	return nil
}

func (m *fakeMover) Reload(ctx context.Context) error {
	m.mu.Lock()
	m.reloads++
	err := m.reloadErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.source.set(append([]card(nil), m.server...))
	return nil
}

type countingObserver struct {
	moved, failed int
}

func (o *countingObserver) StageMoved(from, to Stage)      { o.moved++ }
func (o *countingObserver) StageMoveFailed(from, to Stage) { o.failed++ }

func newTestBoard(items []card) (*Board[card], *fakeSource, *fakeMover, *shared.NoticeQueue) {
	source := &fakeSource{items: append([]card(nil), items...)}
	mover := &fakeMover{source: source, server: append([]card(nil), items...)}
	queue := shared.NewNoticeQueue(0)
	board := NewBoard[card](testStages, source, mover, BoardOptions{
		ActivationDistance: 8,
		Notifier:           queue,
	})
	return board, source, mover, queue
}

func drag(t *testing.T, b *Board[card], id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Press(ctx, id, Point{}))
	active, err := b.Move(ctx, Point{X: 20})
	require.NoError(t, err)
	require.True(t, active)
}

func stageOf(b *Board[card], id string) Stage {
	for _, bucket := range b.Buckets() {
		for _, item := range bucket.Items {
			if item.ID == id {
				return bucket.Stage
			}
		}
	}
	return ""
}

var boardItems = []card{
	{ID: "a", Stage: "lead", Value: 100},
	{ID: "b", Stage: "lead", Value: 50},
	{ID: "c", Stage: "proposal", Value: 25},
}

// ============================================================================
// TESTS
// ============================================================================

func TestReleaseOverOriginDoesNothing(t *testing.T) {
	board, _, mover, queue := newTestBoard(boardItems)
	before := board.Buckets()

	drag(t, board, "a")
	outcome, err := board.Release(context.Background(), "lead")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, mover.moves)
	assert.Equal(t, before, board.Buckets())
	assert.Equal(t, DragIdle, board.DragState())
	assert.Empty(t, queue.Drain())
}

func TestReleaseOutsideContainersDoesNothing(t *testing.T) {
	board, _, mover, _ := newTestBoard(boardItems)
	for _, over := range []Stage{"", "archived"} {
		drag(t, board, "a")
		outcome, err := board.Release(context.Background(), over)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	}
	assert.Empty(t, mover.moves)
}

func TestCancelledGestureDoesNothing(t *testing.T) {
	board, _, mover, _ := newTestBoard(boardItems)
	drag(t, board, "a")
	board.Cancel(context.Background())

	outcome, err := board.Release(context.Background(), "closing")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, mover.moves)
	assert.Equal(t, Stage("lead"), stageOf(board, "a"))
}

func TestPressUnknownItem(t *testing.T) {
	board, _, _, _ := newTestBoard(boardItems)
	err := board.Press(context.Background(), "zz", Point{})
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestMoveIsOptimisticThenCommitted(t *testing.T) {
	board, _, mover, queue := newTestBoard(boardItems)
	observer := &countingObserver{}
	board.observer = observer
	mover.entered = make(chan struct{})
	mover.proceed = make(chan struct{})

	drag(t, board, "a")
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := board.Release(context.Background(), "closing")
		done <- outcome
	}()
	<-mover.entered

	// placed in the target bucket before the remote call resolves
	assert.Equal(t, Stage("closing"), stageOf(board, "a"))
	view := board.View()
	assert.Equal(t, DragCommitting, view.Drag.State)
	require.NotNil(t, view.Drag.Overlay)
	assert.Equal(t, "a", view.Drag.Overlay.ID)
	assert.InDelta(t, 50.0, view.Columns[0].Total, 1e-9)
	assert.InDelta(t, 100.0, view.Columns[2].Total, 1e-9)

	close(mover.proceed)
	assert.Equal(t, OutcomeCommitted, <-done)
	assert.Equal(t, Stage("closing"), stageOf(board, "a"))
	assert.Equal(t, DragIdle, board.DragState())
	assert.Equal(t, 1, observer.moved)

	notices := queue.Drain()
	require.Len(t, notices, 2)
	assert.Equal(t, shared.NoticeLoading, notices[0].Kind)
	assert.Equal(t, shared.Notice{Kind: shared.NoticeSuccess, Message: "Moved to closing."}, notices[1])
}

func TestFailedMoveReloadsServerTruth(t *testing.T) {
	board, _, mover, queue := newTestBoard(boardItems)
	observer := &countingObserver{}
	board.observer = observer
	mover.err = errors.New("rpc rejected")
	mover.entered = make(chan struct{})
	mover.proceed = make(chan struct{})
	// another user moved "a" to proposal meanwhile
	mover.server[0].Stage = "proposal"

	drag(t, board, "a")
	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := board.Release(context.Background(), "closing")
		done <- result{outcome, err}
	}()
	<-mover.entered
	assert.Equal(t, Stage("closing"), stageOf(board, "a"))

	close(mover.proceed)
	res := <-done
	assert.Equal(t, OutcomeRolledBack, res.outcome)
	assert.EqualError(t, res.err, "rpc rejected")
	assert.Equal(t, 1, mover.reloads)
	assert.Equal(t, Stage("proposal"), stageOf(board, "a"))
	assert.Equal(t, 1, observer.failed)

	notices := queue.Drain()
	require.Len(t, notices, 2)
	assert.Equal(t, shared.NoticeError, notices[1].Kind)
}

func TestCommittedMoveWithStaleSourceReloads(t *testing.T) {
	board, _, mover, _ := newTestBoard(boardItems)
	mover.stale = true

	drag(t, board, "a")
	outcome, err := board.Release(context.Background(), "closing")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	assert.Equal(t, 1, mover.reloads)
	assert.Equal(t, Stage("closing"), stageOf(board, "a"))
	assert.Zero(t, board.Pending())
}

func TestCommittedMoveKeepsPlacementUntilSourceCatchesUp(t *testing.T) {
	board, source, mover, queue := newTestBoard(boardItems)
	mover.stale = true
	mover.reloadErr = errors.New("connection reset")

	drag(t, board, "a")
	outcome, err := board.Release(context.Background(), "closing")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	assert.Equal(t, DragIdle, board.DragState())

	// the server holds the new stage; the stale source must not win
	assert.Equal(t, Stage("lead"), source.Items()[0].Stage)
	assert.Equal(t, Stage("closing"), stageOf(board, "a"))
	assert.Equal(t, []string{"a"}, cardIDs(board.View().Columns[2].Items))
	assert.Equal(t, 1, board.Pending())
	notices := queue.Drain()
	assert.Equal(t, "Moved to closing.", notices[len(notices)-1].Message)

	mover.reloadErr = nil
	require.NoError(t, board.Reload(context.Background()))
	assert.Zero(t, board.Pending())
	assert.Equal(t, Stage("closing"), stageOf(board, "a"))
}

func TestKeptPlacementClearsWhenSourceAgrees(t *testing.T) {
	board, source, mover, _ := newTestBoard(boardItems)
	mover.stale = true
	mover.reloadErr = errors.New("connection reset")

	drag(t, board, "a")
	_, err := board.Release(context.Background(), "closing")
	require.NoError(t, err)
	require.Equal(t, 1, board.Pending())

	source.set(append([]card(nil), mover.server...))
	assert.Equal(t, Stage("closing"), stageOf(board, "a"))
	assert.Zero(t, board.Pending())
}

func TestViewColumns(t *testing.T) {
	source := &fakeSource{items: []card{
		{ID: "a", Stage: "lead", Value: 1234.5},
		{ID: "b", Stage: "proposal", Value: 10},
	}}
	board := NewBoard[card](testStages, source, &fakeMover{source: source}, BoardOptions{
		Locale:         language.English,
		CurrencySymbol: "$",
	})
	view := board.View()
	require.Len(t, view.Columns, 3)
	assert.Equal(t, 1, view.Columns[0].Count)
	assert.Equal(t, "$ 1,234.50", view.Columns[0].TotalLabel)
	assert.Equal(t, "$ 0.00", view.Columns[2].TotalLabel)
	assert.Equal(t, DragIdle, view.Drag.State)
	assert.Nil(t, view.Drag.Overlay)
}
