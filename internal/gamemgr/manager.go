// Package gamemgr routes realtime game events to per-game sessions and asks
// the engine for moves when it is the bot's turn.
//
// Transport callbacks only enqueue work. A single goroutine (Run) drains the
// queue, so sessions are never touched concurrently.
package gamemgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/gtp-ogs-bot/internal/archive"
	"github.com/park285/gtp-ogs-bot/internal/board"
	"github.com/park285/gtp-ogs-bot/internal/coords"
	"github.com/park285/gtp-ogs-bot/internal/domain"
	"github.com/park285/gtp-ogs-bot/internal/gtp"
	"github.com/park285/gtp-ogs-bot/internal/ogs"
	"github.com/park285/gtp-ogs-bot/internal/session"
)

const (
	defaultIdleInterval = 60 * time.Second
	defaultMoveTimeout  = 60 * time.Second
	defaultEventBuffer  = 256
	teardownTimeout     = 10 * time.Second
)

var ErrAlreadyRunning = errors.New("gamemgr: already running")

type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	JoinGame(ctx context.Context, id ogs.GameID) error
	SubmitMove(ctx context.Context, id ogs.GameID, move string, boardSize int) error
	CreateChallenge(ctx context.Context, req ogs.ChallengeRequest) (int64, error)
	UserID() int64
	SetHandler(h ogs.Handler)
}

type MoveGenerator interface {
	Start(ctx context.Context) error
	GetMove(ctx context.Context, game gtp.GameState) (string, error)
	Stop(ctx context.Context) error
}

type SessionStore interface {
	Save(ctx context.Context, rec domain.SessionRecord) error
	LoadAll(ctx context.Context) ([]domain.SessionRecord, error)
	Delete(ctx context.Context, gameID string) error
}

// RetryPolicy controls extra attempts after a failed move request. The zero
// value makes one attempt only.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithIdleInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleInterval = d
		}
	}
}

func WithMoveTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.moveTimeout = d
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.retry = p }
}

func WithChallenge(req ogs.ChallengeRequest) Option {
	return func(m *Manager) { m.challenge = req }
}

func WithStore(s SessionStore) Option {
	return func(m *Manager) { m.store = s }
}

func WithArchive(r archive.Repository) Option {
	return func(m *Manager) { m.archive = r }
}

type Manager struct {
	transport Transport
	engine    MoveGenerator
	store     SessionStore
	archive   archive.Repository
	logger    *zap.Logger

	challenge    ogs.ChallengeRequest
	idleInterval time.Duration
	moveTimeout  time.Duration
	retry        RetryPolicy

	events chan func(context.Context)

	// written only by the loop goroutine; mu lets other goroutines read
	mu       sync.RWMutex
	sessions map[string]*session.Session
	myColor  map[string]board.Color

	running      atomic.Bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	teardownOnce sync.Once
}

func NewManager(transport Transport, engine MoveGenerator, opts ...Option) *Manager {
	m := &Manager{
		transport:    transport,
		engine:       engine,
		logger:       zap.NewNop(),
		challenge:    ogs.DefaultChallenge(),
		idleInterval: defaultIdleInterval,
		moveTimeout:  defaultMoveTimeout,
		events:       make(chan func(context.Context), defaultEventBuffer),
		sessions:     make(map[string]*session.Session),
		myColor:      make(map[string]board.Color),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	transport.SetHandler(m)
	return m
}

// Stop asks Run to shut down. Safe from any goroutine, any number of times,
// before or during Run.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// Run connects, starts the engine, rejoins checkpointed games and then
// handles events until ctx is done or Stop is called. On the way out the
// engine is stopped before the transport is disconnected.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)
	if m.stopped() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer m.teardown()

	if err := m.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	if err := m.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	m.logger.Info("manager_started", zap.Int64("user_id", m.transport.UserID()))
	m.restore(ctx)

	ticker := time.NewTicker(m.idleInterval)
	defer ticker.Stop()
	m.maybeChallenge(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("manager_stopping", zap.Int("sessions", m.SessionCount()))
			return nil
		case fn := <-m.events:
			fn(ctx)
		case <-ticker.C:
			m.maybeChallenge(ctx)
		}
	}
}

// teardown also closes stopCh, which releases transport callbacks blocked in
// enqueue when Run ends through ctx rather than Stop.
func (m *Manager) teardown() {
	m.Stop()
	m.teardownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := m.engine.Stop(ctx); err != nil {
			m.logger.Warn("engine_stop_failed", zap.Error(err))
		}
		if err := m.transport.Disconnect(ctx); err != nil {
			m.logger.Warn("transport_disconnect_failed", zap.Error(err))
		}
		m.logger.Info("manager_stopped")
	})
}

func (m *Manager) maybeChallenge(ctx context.Context) {
	if m.SessionCount() > 0 {
		return
	}
	if _, err := m.transport.CreateChallenge(ctx, m.challenge); err != nil {
		m.logger.Warn("challenge_create_failed", zap.Error(err))
	}
}

func (m *Manager) enqueue(fn func(context.Context)) {
	select {
	case m.events <- fn:
	case <-m.stopCh:
	}
}

func (m *Manager) OnGameStarted(ev ogs.GameStarted) {
	m.enqueue(func(ctx context.Context) { m.handleGameStarted(ctx, ev) })
}

func (m *Manager) OnGameMove(ev ogs.MoveEvent) {
	m.enqueue(func(ctx context.Context) { m.handleMove(ctx, ev) })
}

func (m *Manager) OnGameSnapshot(gd ogs.GameData) {
	m.enqueue(func(ctx context.Context) { m.handleSnapshot(ctx, gd) })
}

func (m *Manager) OnGameEnded(ev ogs.GameEnded) {
	m.enqueue(func(ctx context.Context) { m.handleGameEnded(ctx, ev) })
}

func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Session returns the live session for a game. Callers outside the event
// loop must treat it as read-only.
func (m *Manager) Session(id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) MyColor(id string) (board.Color, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.myColor[id]
	return c, ok
}

func (m *Manager) identify(blackID, whiteID int64) (board.Color, bool) {
	me := m.transport.UserID()
	switch {
	case me != 0 && blackID == me:
		return board.Black, true
	case me != 0 && whiteID == me:
		return board.White, true
	}
	return board.Empty, false
}

func (m *Manager) handleGameStarted(ctx context.Context, ev ogs.GameStarted) {
	id := string(ev.GameID)
	color, ok := m.identify(ev.Black.ID, ev.White.ID)
	if !ok {
		m.logger.Warn("game_started_not_ours",
			zap.String("game_id", id),
			zap.Int64("user_id", m.transport.UserID()),
			zap.Int64("black_id", ev.Black.ID),
			zap.Int64("white_id", ev.White.ID),
		)
		return
	}

	m.mu.Lock()
	m.myColor[id] = color
	_, exists := m.sessions[id]
	m.mu.Unlock()
	m.logger.Info("game_started",
		zap.String("game_id", id),
		zap.Int("board_size", ev.BoardSize()),
		zap.String("color", color.String()),
	)
	if exists {
		return
	}

	s, err := session.New(id, ev.BoardSize())
	if err != nil {
		m.logger.Warn("session_create_failed", zap.String("game_id", id), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.checkpoint(ctx, s)
	if err := m.transport.JoinGame(ctx, ev.GameID); err != nil {
		m.logger.Warn("game_join_failed", zap.String("game_id", id), zap.Error(err))
	}
}

func (m *Manager) handleSnapshot(ctx context.Context, gd ogs.GameData) {
	id := string(gd.GameID)
	color, ok := m.identify(gd.BlackID(), gd.WhiteID())
	if !ok {
		m.logger.Warn("snapshot_not_ours", zap.String("game_id", id))
		return
	}
	if gd.Phase == "finished" {
		m.handleGameEnded(ctx, ogs.GameEnded{GameID: gd.GameID, Phase: gd.Phase, Outcome: gd.Outcome, WinnerID: gd.WinnerID})
		return
	}

	size := gd.BoardSize()
	points := make([]coords.Point, 0, len(gd.Moves))
	for i, c := range gd.Moves {
		p, err := c.Point(size)
		if err != nil {
			m.logger.Warn("snapshot_move_invalid", zap.String("game_id", id), zap.Int("index", i), zap.Error(err))
			return
		}
		points = append(points, p)
	}
	initial := board.Black
	if gd.InitialPlayer != "" {
		if c, err := board.ParseColor(gd.InitialPlayer); err == nil {
			initial = c
		}
	}

	m.mu.RLock()
	s, exists := m.sessions[id]
	m.mu.RUnlock()
	if !exists || s.BoardSize() != size {
		var err error
		if s, err = session.New(id, size); err != nil {
			m.logger.Warn("session_create_failed", zap.String("game_id", id), zap.Error(err))
			return
		}
	}
	if err := s.Reset(initial, points); err != nil {
		m.logger.Warn("snapshot_rejected", zap.String("game_id", id), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.myColor[id] = color
	m.mu.Unlock()
	m.logger.Info("snapshot_applied",
		zap.String("game_id", id),
		zap.Int("moves", s.MoveCount()),
		zap.String("turn", s.Turn().String()),
		zap.String("color", color.String()),
	)
	m.logger.Debug("board", zap.String("game_id", id), zap.String("board", s.String()))
	m.checkpoint(ctx, s)

	if s.Turn() == color {
		m.requestMove(ctx, s)
	}
}

func (m *Manager) handleMove(ctx context.Context, ev ogs.MoveEvent) {
	id := string(ev.GameID)
	m.mu.RLock()
	s, ok := m.sessions[id]
	mine := m.myColor[id]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug("move_unknown_game", zap.String("game_id", id))
		return
	}
	color, err := board.ParseColor(ev.Color)
	if err != nil {
		m.logger.Debug("move_without_color", zap.String("game_id", id))
		return
	}
	if ev.Move.Missing() {
		m.logger.Debug("move_without_coordinate", zap.String("game_id", id))
		return
	}

	p, err := ev.Move.Point(s.BoardSize())
	if err == nil {
		err = s.ApplyMove(color, p)
	}
	if err != nil {
		m.logger.Warn("move_rejected", zap.String("game_id", id), zap.String("color", color.String()), zap.Error(err))
		m.resync(ctx, ev.GameID)
		return
	}
	m.checkpoint(ctx, s)

	if s.Turn() == mine {
		m.requestMove(ctx, s)
	}
}

// resync rejoins the game; the server answers with a fresh snapshot.
func (m *Manager) resync(ctx context.Context, id ogs.GameID) {
	if err := m.transport.JoinGame(ctx, id); err != nil {
		m.logger.Warn("resync_failed", zap.String("game_id", string(id)), zap.Error(err))
	}
}

func (m *Manager) handleGameEnded(ctx context.Context, ev ogs.GameEnded) {
	id := string(ev.GameID)
	m.mu.Lock()
	s, ok := m.sessions[id]
	color := m.myColor[id]
	delete(m.sessions, id)
	delete(m.myColor, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Info("game_ended",
		zap.String("game_id", id),
		zap.Int("moves", s.MoveCount()),
		zap.String("outcome", ev.Outcome),
	)
	if m.archive != nil {
		rec := &domain.GameRecord{
			GameID:     id,
			BoardSize:  s.BoardSize(),
			MyColor:    color.String(),
			MoveCount:  s.MoveCount(),
			Moves:      archive.SGF(s.BoardSize(), s.Moves()),
			Outcome:    ev.Outcome,
			WinnerID:   ev.WinnerID,
			FinishedAt: time.Now(),
		}
		if _, err := m.archive.InsertGame(ctx, rec); err != nil && !errors.Is(err, archive.ErrDuplicateGame) {
			m.logger.Warn("game_archive_failed", zap.String("game_id", id), zap.Error(err))
		}
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Warn("checkpoint_delete_failed", zap.String("game_id", id), zap.Error(err))
		}
	}
}

// requestMove asks the engine for a move and submits it. Failures are
// logged; the session is left as it was.
func (m *Manager) requestMove(ctx context.Context, s *session.Session) {
	reqID := uuid.NewString()
	id := s.ID()
	attempts := m.retry.Attempts + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		started := time.Now()
		moveCtx, cancel := context.WithTimeout(ctx, m.moveTimeout)
		move, err := m.engine.GetMove(moveCtx, s)
		if err == nil {
			err = m.transport.SubmitMove(moveCtx, ogs.GameID(id), move, s.BoardSize())
		}
		cancel()
		if err == nil {
			m.logger.Info("move_submitted",
				zap.String("game_id", id),
				zap.String("request_id", reqID),
				zap.String("move", move),
				zap.Duration("elapsed", time.Since(started)),
			)
			return
		}

		m.logger.Error("move_request_failed",
			zap.String("game_id", id),
			zap.String("request_id", reqID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == attempts || ctx.Err() != nil {
			return
		}
		if m.retry.Backoff > 0 {
			t := time.NewTimer(m.retry.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

func (m *Manager) checkpoint(ctx context.Context, s *session.Session) {
	if m.store == nil {
		return
	}
	color, _ := m.MyColor(s.ID())
	moves := s.Moves()
	initial := s.Turn()
	if len(moves) > 0 {
		initial = moves[0].Color
	}
	rec := domain.SessionRecord{
		GameID:      s.ID(),
		BoardSize:   s.BoardSize(),
		MyColor:     color.String(),
		InitialTurn: initial.String(),
		Moves:       moves,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn("checkpoint_save_failed", zap.String("game_id", s.ID()), zap.Error(err))
	}
}

// restore rebuilds sessions from checkpoints and rejoins them. The snapshot
// the server sends on join replaces whatever was restored.
func (m *Manager) restore(ctx context.Context) {
	if m.store == nil {
		return
	}
	recs, err := m.store.LoadAll(ctx)
	if err != nil {
		m.logger.Warn("checkpoint_load_failed", zap.Error(err))
		return
	}
	for _, rec := range recs {
		s, err := restoreSession(rec)
		if err != nil {
			m.logger.Warn("checkpoint_invalid", zap.String("game_id", rec.GameID), zap.Error(err))
			if derr := m.store.Delete(ctx, rec.GameID); derr != nil {
				m.logger.Warn("checkpoint_delete_failed", zap.String("game_id", rec.GameID), zap.Error(derr))
			}
			continue
		}
		color, err := board.ParseColor(rec.MyColor)
		if err != nil {
			m.logger.Warn("checkpoint_invalid", zap.String("game_id", rec.GameID), zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.sessions[rec.GameID] = s
		m.myColor[rec.GameID] = color
		m.mu.Unlock()
		m.logger.Info("session_restored", zap.String("game_id", rec.GameID), zap.Int("moves", s.MoveCount()))
		m.resync(ctx, ogs.GameID(rec.GameID))
	}
}

func restoreSession(rec domain.SessionRecord) (*session.Session, error) {
	s, err := session.New(rec.GameID, rec.BoardSize)
	if err != nil {
		return nil, err
	}
	initial, err := board.ParseColor(rec.InitialTurn)
	if err != nil {
		initial = board.Black
	}
	if err := s.Reset(initial, nil); err != nil {
		return nil, err
	}
	for _, mv := range rec.Moves {
		if err := s.ApplyMove(mv.Color, coords.Point{Row: mv.Row, Col: mv.Col}); err != nil {
			return nil, err
		}
	}
	return s, nil
}
