package crm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-crm/internal/listctl"
	"github.com/odyssey-erp/odyssey-crm/internal/pipeline"
	"github.com/odyssey-erp/odyssey-crm/internal/shared"
	"github.com/odyssey-erp/odyssey-crm/jobs"
)

// OpportunityList is the list controller specialised for opportunities.
type OpportunityList = listctl.Controller[Opportunity, CreateOpportunityRequest, UpdateOpportunityRequest]

// StageChangeEnqueuer schedules the stage history write of a confirmed move.
type StageChangeEnqueuer interface {
	EnqueueStageChanged(ctx context.Context, payload jobs.StageChangedPayload) error
}

// ScreenKey identifies one mounted CRM screen.
type ScreenKey struct {
	Session string
	Tenant  string
}

// Screen is the state of one mounted CRM screen: the paged list, the
// board-sized list feeding the pipeline board and the notices emitted since
// the last response.
type Screen struct {
	Key       ScreenKey
	List      *OpportunityList
	BoardList *OpportunityList
	Board     *pipeline.Board[Opportunity]
	Notices   *shared.NoticeQueue

	mu          sync.Mutex
	boardLoaded bool
	lastUsed    time.Time
}

// EnsureBoard loads the board list once per mount.
func (s *Screen) EnsureBoard(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.boardLoaded
	s.boardLoaded = true
	s.mu.Unlock()
	if loaded {
		return nil
	}
	if err := s.BoardList.Load(ctx, 1); err != nil {
		s.mu.Lock()
		s.boardLoaded = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// RefreshBoard reloads the board list after a mutation made through the
// paged list, when the board has been shown on this screen.
func (s *Screen) RefreshBoard(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.boardLoaded
	s.mu.Unlock()
	if !loaded {
		return nil
	}
	return s.BoardList.Reload(ctx)
}

func (s *Screen) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Screen) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// ScreenConfig carries the collaborators shared by every screen.
type ScreenConfig struct {
	Port               OpportunityPort
	Enqueuer           StageChangeEnqueuer
	Observer           pipeline.Observer
	Logger             *slog.Logger
	PageSize           int
	BoardPageSize      int
	ActivationDistance float64
	IdleTTL            time.Duration
	Now                func() time.Time
}

// Screens is the registry of mounted screens keyed by session and tenant.
type Screens struct {
	cfg ScreenConfig

	mu      sync.Mutex
	screens map[ScreenKey]*Screen
}

// NewScreens builds an empty registry.
func NewScreens(cfg ScreenConfig) *Screens {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BoardPageSize <= 0 {
		cfg.BoardPageSize = 1000
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Screens{cfg: cfg, screens: make(map[ScreenKey]*Screen)}
}

// Mount returns the screen for key, creating it on first use.
func (s *Screens) Mount(key ScreenKey, userID string) *Screen {
	now := s.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if screen, ok := s.screens[key]; ok {
		screen.touch(now)
		return screen
	}
	screen := s.build(key, userID)
	screen.touch(now)
	s.screens[key] = screen
	s.cfg.Logger.Debug("crm screen mounted", slog.String("tenant", key.Tenant))
	return screen
}

// Unmount discards the screen for key and reports whether it existed.
func (s *Screens) Unmount(key ScreenKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.screens[key]
	delete(s.screens, key)
	return ok
}

// Len reports the number of mounted screens.
func (s *Screens) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.screens)
}

// Sweep unmounts screens idle for longer than the configured TTL and
// returns how many were removed.
func (s *Screens) Sweep() int {
	cutoff := s.cfg.Now().Add(-s.cfg.IdleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, screen := range s.screens {
		if screen.idleSince().Before(cutoff) {
			delete(s.screens, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle screens every interval until ctx is done.
func (s *Screens) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.cfg.Logger.Info("crm screens swept", slog.Int("count", n))
			}
		}
	}
}

func (s *Screens) build(key ScreenKey, userID string) *Screen {
	logger := s.cfg.Logger.With(slog.String("tenant", key.Tenant))
	notices := shared.NewNoticeQueue(0)
	notifier := shared.Notifiers(notices, shared.LogNotifier{Logger: logger})
	tenant := listctl.StaticTenant(key.Tenant)

	list := listctl.New(s.cfg.Port, listctl.Options{
		Entity:   "crm_opportunity",
		Label:    "Opportunity",
		PageSize: s.cfg.PageSize,
		Tenant:   tenant,
		Notifier: notifier,
		Logger:   logger,
	})
	boardList := listctl.New(s.cfg.Port, listctl.Options{
		Entity:   "crm_board",
		Label:    "Opportunity",
		PageSize: s.cfg.BoardPageSize,
		Tenant:   tenant,
		Notifier: notifier,
		Logger:   logger,
	})
	mover := &boardMover{
		board:    boardList,
		list:     list,
		enqueuer: s.cfg.Enqueuer,
		tenantID: key.Tenant,
		userID:   userID,
		now:      s.cfg.Now,
		logger:   logger,
	}
	board := pipeline.NewBoard[Opportunity](Stages, boardList, mover, pipeline.BoardOptions{
		ActivationDistance: s.cfg.ActivationDistance,
		Locale:             language.BrazilianPortuguese,
		CurrencySymbol:     "R$",
		StageLabel:         StageLabel,
		Notifier:           notifier,
		Observer:           s.cfg.Observer,
		Logger:             logger,
	})
	return &Screen{
		Key:       key,
		List:      list,
		BoardList: boardList,
		Board:     board,
		Notices:   notices,
	}
}

// boardMover commits board drops through the board list controller and
// schedules the stage history write once the move is confirmed.
type boardMover struct {
	board    *OpportunityList
	list     *OpportunityList
	enqueuer StageChangeEnqueuer
	tenantID string
	userID   string
	now      func() time.Time
	logger   *slog.Logger
}

func (m *boardMover) MoveStage(ctx context.Context, id string, to pipeline.Stage) error {
	var from pipeline.Stage
	for _, opp := range m.board.Items() {
		if opp.ID == id {
			from = opp.Stage
			break
		}
	}
	if _, err := m.board.Update(ctx, id, StagePatch(to)); err != nil {
		return err
	}
	if err := m.list.Reload(ctx); err != nil {
		m.logger.Warn("refresh list after move", slog.Any("error", err))
	}
	if m.enqueuer == nil {
		return nil
	}
	payload := jobs.StageChangedPayload{
		OpportunityID: id,
		TenantID:      m.tenantID,
		FromStage:     string(from),
		ToStage:       string(to),
		ChangedBy:     m.userID,
		ChangedAt:     m.now().UTC(),
	}
	if err := m.enqueuer.EnqueueStageChanged(ctx, payload); err != nil {
		m.logger.Warn("enqueue stage change", slog.String("id", id), slog.Any("error", err))
	}
	return nil
}

func (m *boardMover) Reload(ctx context.Context) error {
	return m.board.Load(ctx, 1)
}
