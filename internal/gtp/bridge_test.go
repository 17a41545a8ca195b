package gtp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/gtp-ogs-bot/internal/board"
)

const fakeEngine = `#!/bin/sh
LOG="$1"
while IFS= read -r line; do
  [ -n "$LOG" ] && echo "$line" >> "$LOG"
  case "$line" in
    quit) printf '=\n\n'; exit 0 ;;
    genmove*) printf '\n= Q16\n\n' ;;
    bad*) printf '? unknown command\n\n' ;;
    multi*) printf '= a\nb\n\n' ;;
    junk*) printf 'hello\n\n' ;;
    slow*) sleep 2; printf '=\n\n' ;;
    die*) exit 3 ;;
    *) printf '=\n\n' ;;
  esac
done
`

func writeEngine(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte(fakeEngine), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func startBridge(t *testing.T, logPath string) *Bridge {
	t.Helper()
	args := []string{writeEngine(t)}
	if logPath != "" {
		args = append(args, logPath)
	}
	b := New("/bin/sh", args, WithQuitTimeout(300*time.Millisecond))
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b
}

type fakeGame struct {
	size  int
	moves []board.Move
	turn  board.Color
}

func (g fakeGame) BoardSize() int      { return g.size }
func (g fakeGame) Moves() []board.Move { return g.moves }
func (g fakeGame) Turn() board.Color   { return g.turn }

func TestSendCommandFraming(t *testing.T) {
	b := startBridge(t, "")
	ctx := context.Background()

	got, err := b.SendCommand(ctx, "genmove black")
	if err != nil || got != "Q16" {
		t.Fatalf("genmove = %q, %v", got, err)
	}
	got, err = b.SendCommand(ctx, "multi")
	if err != nil || got != "a\nb" {
		t.Fatalf("multi = %q, %v", got, err)
	}
	got, err = b.SendCommand(ctx, "boardsize 19")
	if err != nil || got != "" {
		t.Fatalf("boardsize = %q, %v", got, err)
	}
}

func TestSendCommandProtocolErrors(t *testing.T) {
	b := startBridge(t, "")
	ctx := context.Background()

	_, err := b.SendCommand(ctx, "bad")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.Command != "bad" || pe.Message != "unknown command" {
		t.Fatalf("unexpected error fields: %+v", pe)
	}

	_, err = b.SendCommand(ctx, "junk")
	if !errors.As(err, &pe) || !strings.Contains(pe.Message, "malformed") {
		t.Fatalf("expected malformed ProtocolError, got %v", err)
	}

	if b.State() != StateRunning {
		t.Fatalf("protocol errors must not crash the bridge, state=%s", b.State())
	}
	if got, err := b.SendCommand(ctx, "genmove white"); err != nil || got != "Q16" {
		t.Fatalf("bridge unusable after ? reply: %q, %v", got, err)
	}
}

func TestEngineExitMidExchange(t *testing.T) {
	b := startBridge(t, "")
	ctx := context.Background()

	_, err := b.SendCommand(ctx, "die")
	var ce *EngineClosedError
	if !errors.As(err, &ce) {
		t.Fatalf("expected EngineClosedError, got %v", err)
	}
	if b.State() != StateCrashed {
		t.Fatalf("state = %s, want crashed", b.State())
	}
	if _, err := b.SendCommand(ctx, "name"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("SendCommand must not respawn, got %v", err)
	}

	move, err := b.GetMove(ctx, fakeGame{size: 9, turn: board.Black})
	if err != nil || move != "Q16" {
		t.Fatalf("GetMove after crash = %q, %v", move, err)
	}
	if b.State() != StateRunning {
		t.Fatalf("state after respawn = %s", b.State())
	}
}

func TestTimeoutMarksCrashed(t *testing.T) {
	b := startBridge(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := b.SendCommand(ctx, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if b.State() != StateCrashed {
		t.Fatalf("state = %s, want crashed", b.State())
	}
}

func TestGetMoveReplaysHistory(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "commands.log")
	b := startBridge(t, logPath)

	game := fakeGame{
		size: 19,
		moves: []board.Move{
			{Color: board.Black, Row: 3, Col: 3},
			{Color: board.White, Row: 15, Col: 15},
			{Color: board.Black, Row: -1, Col: -1},
		},
		turn: board.White,
	}
	move, err := b.GetMove(context.Background(), game)
	if err != nil || move != "Q16" {
		t.Fatalf("GetMove = %q, %v", move, err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read command log: %v", err)
	}
	got := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"boardsize 19",
		"clear_board",
		"play black D16",
		"play white Q4",
		"play black pass",
		"genmove white",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("commands = %v, want %v", got, want)
	}
}

func TestConcurrentGetMoveDoesNotInterleave(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "commands.log")
	b := startBridge(t, logPath)

	sizes := []int{9, 13, 19, 7, 5}
	var wg sync.WaitGroup
	errs := make(chan error, len(sizes))
	for _, size := range sizes {
		wg.Add(1)
		go func(size int) {
			defer wg.Done()
			game := fakeGame{
				size:  size,
				moves: []board.Move{{Color: board.Black, Row: 0, Col: 0}, {Color: board.White, Row: 1, Col: 1}},
				turn:  board.Black,
			}
			if _, err := b.GetMove(context.Background(), game); err != nil {
				errs <- err
			}
		}(size)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("GetMove: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read command log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != len(sizes)*5 {
		t.Fatalf("expected %d commands, got %d: %v", len(sizes)*5, len(lines), lines)
	}
	for i := 0; i < len(lines); i += 5 {
		block := lines[i : i+5]
		if !strings.HasPrefix(block[0], "boardsize ") || block[1] != "clear_board" ||
			!strings.HasPrefix(block[2], "play black ") || !strings.HasPrefix(block[3], "play white ") ||
			block[4] != "genmove black" {
			t.Fatalf("interleaved exchange at %d: %v", i, block)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	b := startBridge(t, "")
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if b.State() != StateStopped {
		t.Fatalf("state = %s", b.State())
	}
	if _, err := b.SendCommand(context.Background(), "name"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
	if _, err := b.GetMove(context.Background(), fakeGame{size: 9, turn: board.Black}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("GetMove after stop should not respawn, got %v", err)
	}
}

func TestStopNeverStarted(t *testing.T) {
	b := New("/bin/does-not-exist", nil)
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("stop on fresh bridge: %v", err)
	}
	if _, err := b.SendCommand(context.Background(), "name"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

// stubbornEngine answers quit but keeps running. The TERM trap decides
// whether it exits on SIGTERM.
const stubbornEngine = `#!/bin/sh
%s
while IFS= read -r line; do
  case "$line" in
    quit)
      printf '=\n\n'
      while :; do sleep 1 </dev/null >/dev/null 2>&1 & wait $!; done ;;
    *) printf '=\n\n' ;;
  esac
done
`

func startStubborn(t *testing.T, trap string) *Bridge {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stubborn.sh")
	if err := os.WriteFile(path, []byte(fmt.Sprintf(stubbornEngine, trap)), 0o755); err != nil {
		t.Fatalf("write engine: %v", err)
	}
	b := New("/bin/sh", []string{path}, WithQuitTimeout(300*time.Millisecond))
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return b
}

func TestStopSendsTermBeforeKill(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "term")
	b := startStubborn(t, fmt.Sprintf(`trap 'echo term > "%s"; exit 0' TERM`, marker))

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil || strings.TrimSpace(string(data)) != "term" {
		t.Fatalf("engine did not see SIGTERM: %q, %v", data, err)
	}
}

func TestStopKillsEngineIgnoringTerm(t *testing.T) {
	b := startStubborn(t, `trap '' TERM`)

	started := time.Now()
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("stop took %v", elapsed)
	}
	if b.State() != StateStopped {
		t.Fatalf("state = %s", b.State())
	}
}

func TestStartFailsForMissingBinary(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "missing-engine"), nil)
	if err := b.Start(context.Background()); err == nil {
		t.Fatalf("expected spawn error")
	}
	if b.State() != StateStopped {
		t.Fatalf("state = %s", b.State())
	}
}

func TestParseReply(t *testing.T) {
	got, err := parseReply("genmove b", []string{"=  D4  "})
	if err != nil || got != "D4" {
		t.Fatalf("parseReply = %q, %v", got, err)
	}
	got, err = parseReply("list_commands", []string{"= name", "version", "quit"})
	if err != nil || got != "name\nversion\nquit" {
		t.Fatalf("parseReply multi = %q, %v", got, err)
	}
}
