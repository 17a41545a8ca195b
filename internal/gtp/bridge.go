// Package gtp drives a Go engine subprocess over the Go Text Protocol.
//
// A Bridge serialises every request/response cycle behind one exchange
// lock, so callers from many games can share a single engine. GetMove
// replays the full game before each genmove, which keeps the engine
// stateless across games.
package gtp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/gtp-ogs-bot/internal/board"
	"github.com/park285/gtp-ogs-bot/internal/coords"
)

const defaultQuitTimeout = time.Second

type State int

const (
	StateStopped State = iota
	StateRunning
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	default:
		return "stopped"
	}
}

// GameState is what GetMove needs to rebuild a position.
type GameState interface {
	BoardSize() int
	Moves() []board.Move
	Turn() board.Color
}

type Option func(*Bridge)

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithQuitTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.quitTimeout = d
		}
	}
}

type Bridge struct {
	path        string
	args        []string
	logger      *zap.Logger
	quitTimeout time.Duration

	// exchange is a one-slot semaphore held for a whole request/response
	// cycle (or a whole GetMove replay).
	exchange chan struct{}

	mu    sync.Mutex
	proc  *process
	state State
}

func New(path string, args []string, opts ...Option) *Bridge {
	b := &Bridge{
		path:        path,
		args:        append([]string(nil), args...),
		logger:      zap.NewNop(),
		quitTimeout: defaultQuitTimeout,
		exchange:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start spawns the engine. Calling Start on a running bridge is a no-op.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proc != nil && b.state == StateRunning {
		return nil
	}
	return b.spawnLocked()
}

func (b *Bridge) spawnLocked() error {
	p, err := spawn(b.path, b.args, b.logger)
	if err != nil {
		return err
	}
	b.proc = p
	b.state = StateRunning
	b.logger.Info("engine_started", zap.String("path", b.path), zap.Int("pid", p.cmd.Process.Pid))
	return nil
}

func (b *Bridge) acquire(ctx context.Context) error {
	select {
	case b.exchange <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) release() { <-b.exchange }

func (b *Bridge) current() (*process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proc == nil || b.state != StateRunning {
		return nil, ErrNotRunning
	}
	return b.proc, nil
}

// markCrashed kills p if it is still the live process. Once a read was
// abandoned the next reply on stdout can no longer be matched to its command.
func (b *Bridge) markCrashed(p *process, cause error) {
	b.mu.Lock()
	if b.proc == p {
		b.state = StateCrashed
	}
	b.mu.Unlock()
	if err := p.kill(); err != nil {
		b.logger.Warn("engine_kill_failed", zap.Error(err))
	}
	b.logger.Warn("engine_crashed", zap.Error(cause))
}

// SendCommand runs one command and returns the reply body.
func (b *Bridge) SendCommand(ctx context.Context, text string) (string, error) {
	if err := b.acquire(ctx); err != nil {
		return "", err
	}
	defer b.release()

	p, err := b.current()
	if err != nil {
		return "", err
	}
	return b.roundTrip(ctx, p, text)
}

func (b *Bridge) roundTrip(ctx context.Context, p *process, text string) (string, error) {
	if err := p.send(text); err != nil {
		b.markCrashed(p, err)
		return "", &EngineClosedError{Command: text, Err: err}
	}
	lines, err := p.readReply(ctx)
	if err != nil {
		b.markCrashed(p, err)
		if errors.Is(err, errStreamClosed) {
			return "", &EngineClosedError{Command: text}
		}
		return "", fmt.Errorf("gtp %q: %w", text, err)
	}
	return parseReply(text, lines)
}

// GetMove replays game from an empty board and asks the engine for the side
// to move. The reply is returned as the engine wrote it ("Q16", "pass",
// "resign"). A crashed engine is restarted first.
func (b *Bridge) GetMove(ctx context.Context, game GameState) (string, error) {
	if err := b.acquire(ctx); err != nil {
		return "", err
	}
	defer b.release()

	p, err := b.respawnIfCrashed()
	if err != nil {
		return "", err
	}

	cmds, err := replayCommands(game)
	if err != nil {
		return "", err
	}
	for _, c := range cmds {
		if _, err := b.roundTrip(ctx, p, c); err != nil {
			return "", err
		}
	}
	return b.roundTrip(ctx, p, "genmove "+game.Turn().String())
}

func (b *Bridge) respawnIfCrashed() (*process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.state == StateCrashed, b.proc != nil && b.proc.exited():
		old := b.proc
		if old != nil {
			_ = old.kill()
		}
		b.logger.Info("engine_restarting", zap.String("path", b.path))
		if err := b.spawnLocked(); err != nil {
			b.proc = nil
			b.state = StateStopped
			return nil, err
		}
		return b.proc, nil
	case b.proc == nil:
		return nil, ErrNotRunning
	}
	return b.proc, nil
}

func replayCommands(game GameState) ([]string, error) {
	size := game.BoardSize()
	moves := game.Moves()
	cmds := make([]string, 0, len(moves)+2)
	cmds = append(cmds, "boardsize "+strconv.Itoa(size), "clear_board")
	for _, m := range moves {
		v, err := coords.ToGTP(coords.Point{Row: m.Row, Col: m.Col}, size)
		if err != nil {
			return nil, fmt.Errorf("replay move %+v: %w", m, err)
		}
		cmds = append(cmds, fmt.Sprintf("play %s %s", m.Color, v))
	}
	return cmds, nil
}

// Stop asks the engine to quit, then sends SIGTERM and finally kills it if
// it is still running. Errors on the way are logged, not returned. Stop is
// idempotent.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	p := b.proc
	b.proc = nil
	b.state = StateStopped
	b.mu.Unlock()
	if p == nil {
		return nil
	}

	quitCtx, cancel := context.WithTimeout(ctx, b.quitTimeout)
	defer cancel()

	if !p.exited() && b.acquire(quitCtx) == nil {
		if _, err := b.roundTrip(quitCtx, p, "quit"); err != nil {
			b.logger.Debug("engine_quit_failed", zap.Error(err))
		}
		b.release()
	}

	select {
	case <-p.done:
	case <-quitCtx.Done():
	}
	if err := p.terminate(b.quitTimeout); err != nil {
		b.logger.Warn("engine_kill_failed", zap.Error(err))
	}
	select {
	case <-p.done:
		b.logger.Info("engine_stopped", zap.String("path", b.path), zap.NamedError("exit", p.waitErr))
	case <-time.After(b.quitTimeout):
		b.logger.Warn("engine_wait_timeout", zap.String("path", b.path))
	}
	return nil
}
