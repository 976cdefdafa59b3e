package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

// Source supplies the items the board displays. The board never owns them.
type Source[T Item] interface {
	Items() []T
}

// Mover applies confirmed stage changes and resynchronises the source.
type Mover interface {
	MoveStage(ctx context.Context, id string, to Stage) error
	Reload(ctx context.Context) error
}

// Observer is told about commit outcomes.
type Observer interface {
	StageMoved(from, to Stage)
	StageMoveFailed(from, to Stage)
}

// Outcome classifies how a release ended.
type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// BoardOptions configures a Board.
type BoardOptions struct {
	ActivationDistance float64
	Locale             language.Tag
	CurrencySymbol     string
	// StageLabel renders a stage for notices; defaults to the raw value.
	StageLabel func(Stage) string
	Notifier   shared.Notifier
	Observer   Observer
	Logger     *slog.Logger
}

// Board is the stage-grouped, drag-driven view over a Source.
type Board[T Item] struct {
	stages     Stages
	source     Source[T]
	mover      Mover
	money      MoneyFormatter
	stageLabel func(Stage) string
	notifier   shared.Notifier
	observer   Observer
	logger     *slog.Logger

	mu      sync.Mutex
	session *DragSession
	pending map[string]Stage
}

// NewBoard wires a board over source. Stage changes go through mover.
func NewBoard[T Item](stages Stages, source Source[T], mover Mover, opts BoardOptions) *Board[T] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Locale == language.Und {
		opts.Locale = language.English
	}
	if opts.StageLabel == nil {
		opts.StageLabel = func(s Stage) string { return string(s) }
	}
	return &Board[T]{
		stages:     stages,
		source:     source,
		mover:      mover,
		money:      NewMoneyFormatter(opts.Locale, opts.CurrencySymbol),
		stageLabel: opts.StageLabel,
		notifier:   opts.Notifier,
		observer:   opts.Observer,
		logger:     opts.Logger,
		session:    NewDragSession(opts.ActivationDistance),
		pending:    make(map[string]Stage),
	}
}

// Column is a bucket decorated for display.
type Column[T Item] struct {
	Bucket[T]
	Count      int    `json:"count"`
	TotalLabel string `json:"total_label"`
}

// DragView describes the gesture in progress.
type DragView[T Item] struct {
	State    DragState `json:"state"`
	ActiveID string    `json:"active_id,omitempty"`
	Origin   Stage     `json:"origin,omitempty"`
	// Overlay is the card rendered under the pointer while dragging.
	Overlay *T `json:"overlay,omitempty"`
}

// View is the full board snapshot.
type View[T Item] struct {
	Columns []Column[T] `json:"columns"`
	Drag    DragView[T] `json:"drag"`
}

// Stages returns the configured stage order.
func (b *Board[T]) Stages() Stages {
	return append(Stages(nil), b.stages...)
}

// Buckets groups the current source items, with optimistic placements
// applied.
func (b *Board[T]) Buckets() []Bucket[T] {
	items := b.source.Items()
	b.mu.Lock()
	b.prune(items)
	overrides := b.pendingCopy()
	b.mu.Unlock()
	return Group(b.stages, items, overrides)
}

// View returns columns with counts and formatted totals plus drag state.
func (b *Board[T]) View() View[T] {
	items := b.source.Items()
	b.mu.Lock()
	b.prune(items)
	overrides := b.pendingCopy()
	drag := DragView[T]{
		State:    b.session.State(),
		ActiveID: b.session.ItemID(),
		Origin:   b.session.Origin(),
	}
	b.mu.Unlock()

	if drag.State == DragDragging || drag.State == DragCommitting {
		if item, _, ok := Locate(items, overrides, drag.ActiveID); ok {
			drag.Overlay = &item
		}
	}
	buckets := Group(b.stages, items, overrides)
	columns := make([]Column[T], 0, len(buckets))
	for _, bucket := range buckets {
		columns = append(columns, Column[T]{
			Bucket:     bucket,
			Count:      bucket.Count(),
			TotalLabel: b.money.Format(bucket.Total),
		})
	}
	return View[T]{Columns: columns, Drag: drag}
}

// DragState returns the phase of the current gesture.
func (b *Board[T]) DragState() DragState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.State()
}

// Press starts a gesture on the card with id at pointer position at.
func (b *Board[T]) Press(ctx context.Context, id string, at Point) error {
	items := b.source.Items()
	b.mu.Lock()
	defer b.mu.Unlock()
	_, stage, ok := Locate(items, b.pending, id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return b.session.Press(ctx, id, stage, at)
}

// Move feeds a pointer movement and reports whether a drag is active.
func (b *Board[T]) Move(ctx context.Context, at Point) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.Move(ctx, at)
}

// Cancel interrupts the current gesture without any mutation.
func (b *Board[T]) Cancel(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session.Cancel(ctx)
}

// Release ends the gesture. over is the stage container under the pointer,
// empty when the pointer is outside every container. A drag that ends over a
// different stage is placed there immediately, then committed through the
// mover. When the commit fails the source is reloaded from the server rather
// than patched back, and the commit error is returned. A committed card stays
// in its new stage until the source has caught up with the server.
func (b *Board[T]) Release(ctx context.Context, over Stage) (Outcome, error) {
	valid := over != "" && b.stages.Contains(over)

	b.mu.Lock()
	drop, commit, err := b.session.Release(ctx, over, valid)
	if err != nil || !commit {
		b.mu.Unlock()
		return OutcomeIgnored, err
	}
	b.pending[drop.ItemID] = drop.To
	b.mu.Unlock()

	shared.Notify(ctx, b.notifier, shared.NoticeLoading, "Updating stage...")
	moveErr := b.mover.MoveStage(ctx, drop.ItemID, drop.To)

	keep := false
	if moveErr == nil {
		if _, stage, ok := Locate(b.source.Items(), nil, drop.ItemID); ok && stage != drop.To {
			if err := b.mover.Reload(ctx); err != nil {
				b.logger.Warn("reload after move, keeping placement",
					slog.String("id", drop.ItemID), slog.Any("error", err))
				keep = true
			}
		}
	}

	b.mu.Lock()
	if !keep {
		delete(b.pending, drop.ItemID)
	}
	settleErr := b.session.Settle(ctx)
	b.mu.Unlock()
	if settleErr != nil {
		b.logger.Error("settle drag session", slog.Any("error", settleErr))
	}

	if moveErr == nil {
		b.logger.Info("stage moved",
			slog.String("id", drop.ItemID),
			slog.String("from", string(drop.From)),
			slog.String("to", string(drop.To)))
		if b.observer != nil {
			b.observer.StageMoved(drop.From, drop.To)
		}
		shared.Notify(ctx, b.notifier, shared.NoticeSuccess,
			fmt.Sprintf("Moved to %s.", b.stageLabel(drop.To)))
		return OutcomeCommitted, nil
	}

	b.logger.Warn("stage move failed, reloading",
		slog.String("id", drop.ItemID),
		slog.String("to", string(drop.To)),
		slog.Any("error", moveErr))
	if b.observer != nil {
		b.observer.StageMoveFailed(drop.From, drop.To)
	}
	shared.Notify(ctx, b.notifier, shared.NoticeError, "Could not update the stage. Reverting.")
	if err := b.mover.Reload(ctx); err != nil {
		b.logger.Warn("reload after failed move", slog.Any("error", err))
	}
	return OutcomeRolledBack, moveErr
}

// Reload refetches the source through the mover. A successful reload is the
// server's word, so placements kept from earlier commits are dropped.
func (b *Board[T]) Reload(ctx context.Context) error {
	if err := b.mover.Reload(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	for id := range b.pending {
		if !b.inFlight(id) {
			delete(b.pending, id)
		}
	}
	b.mu.Unlock()
	return nil
}

// Pending reports how many cards are displayed away from their source stage.
func (b *Board[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// prune drops kept placements the source already agrees with, or whose card
// left the source. Callers hold b.mu.
func (b *Board[T]) prune(items []T) {
	for id, stage := range b.pending {
		if b.inFlight(id) {
			continue
		}
		if _, current, ok := Locate(items, nil, id); !ok || current == stage {
			delete(b.pending, id)
		}
	}
}

func (b *Board[T]) inFlight(id string) bool {
	return b.session.State() == DragCommitting && b.session.ItemID() == id
}

func (b *Board[T]) pendingCopy() map[string]Stage {
	if len(b.pending) == 0 {
		return nil
	}
	out := make(map[string]Stage, len(b.pending))
	for k, v := range b.pending {
		out[k] = v
	}
	return out
}
