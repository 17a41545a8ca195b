package board

import (
	"errors"
	"testing"
)

func mustPlay(t *testing.T, b *Board, c Color, row, col int) int {
	t.Helper()
	n, err := b.Play(c, row, col)
	if err != nil {
		t.Fatalf("play %s (%d,%d): %v", c, row, col, err)
	}
	return n
}

func TestPlayCapturesSingleStone(t *testing.T) {
	b := New(9)
	mustPlay(t, b, White, 4, 4)
	mustPlay(t, b, Black, 3, 4)
	mustPlay(t, b, Black, 5, 4)
	mustPlay(t, b, Black, 4, 3)
	if n := mustPlay(t, b, Black, 4, 5); n != 1 {
		t.Fatalf("expected 1 capture, got %d", n)
	}
	if b.Get(4, 4) != Empty {
		t.Fatalf("captured stone still on board")
	}
}

func TestPlayCapturesCornerGroup(t *testing.T) {
	b := New(5)
	mustPlay(t, b, White, 0, 0)
	mustPlay(t, b, White, 0, 1)
	mustPlay(t, b, Black, 1, 0)
	mustPlay(t, b, Black, 1, 1)
	if n := mustPlay(t, b, Black, 0, 2); n != 2 {
		t.Fatalf("expected 2 captures, got %d", n)
	}
}

func TestPlayRejectsOccupiedAndSuicide(t *testing.T) {
	b := New(5)
	mustPlay(t, b, Black, 0, 1)
	mustPlay(t, b, Black, 1, 0)

	if _, err := b.Play(White, 0, 1); !errors.Is(err, ErrOccupied) {
		t.Fatalf("expected ErrOccupied, got %v", err)
	}
	if _, err := b.Play(White, 0, 0); !errors.Is(err, ErrSuicide) {
		t.Fatalf("expected ErrSuicide, got %v", err)
	}
	if b.Get(0, 0) != Empty {
		t.Fatalf("suicide stone left on board")
	}
	if _, err := b.Play(Black, 5, 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := b.Play(Empty, 2, 2); !errors.Is(err, ErrColor) {
		t.Fatalf("expected ErrColor, got %v", err)
	}
}

func TestCaptureBeatsSuicide(t *testing.T) {
	// Black at (0,1) is surrounded by white but takes the last liberty of
	// the white stone at (0,0), so the move is legal.
	b := New(3)
	mustPlay(t, b, White, 0, 0)
	mustPlay(t, b, White, 1, 1)
	mustPlay(t, b, White, 0, 2)
	mustPlay(t, b, Black, 1, 0)
	if n := mustPlay(t, b, Black, 0, 1); n != 1 {
		t.Fatalf("expected 1 capture at (0,1), got %d", n)
	}
	if b.Get(0, 0) != Empty || b.Get(0, 1) != Black {
		t.Fatalf("unexpected board after capture")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b := New(9)
	mustPlay(t, b, Black, 2, 2)
	cp := b.Clone()
	mustPlay(t, cp, White, 3, 3)
	if b.Get(3, 3) != Empty {
		t.Fatalf("clone shares cells with original")
	}
	if cp.Get(2, 2) != Black {
		t.Fatalf("clone lost original stone")
	}
}

func TestParseColor(t *testing.T) {
	for in, want := range map[string]Color{"b": Black, "BLACK": Black, "w": White, " White ": White} {
		got, err := ParseColor(in)
		if err != nil || got != want {
			t.Fatalf("ParseColor(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseColor("red"); err == nil {
		t.Fatalf("expected error for unknown color")
	}
	if Black.Opponent() != White || White.Opponent() != Black {
		t.Fatalf("opponent mismatch")
	}
}
