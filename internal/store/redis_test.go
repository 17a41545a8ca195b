package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/gtp-ogs-bot/internal/board"
	"github.com/park285/gtp-ogs-bot/internal/domain"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, err := NewRedisStore(fmt.Sprintf("redis://%s/0", mr.Addr()), nil)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	rec := domain.SessionRecord{
		GameID:      "1001",
		BoardSize:   19,
		MyColor:     "white",
		InitialTurn: "black",
		Moves: []board.Move{
			{Color: board.Black, Row: 3, Col: 3},
			{Color: board.White, Row: -1, Col: -1},
		},
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, "1001")
	if err != nil || got == nil {
		t.Fatalf("load: %v %v", got, err)
	}
	if got.BoardSize != 19 || got.MyColor != "white" || len(got.Moves) != 2 || !got.Moves[1].IsPass() {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not stamped")
	}
	if ttl := mr.TTL(sessionKey("1001")); ttl != sessionTTL {
		t.Fatalf("ttl = %v, want %v", ttl, sessionTTL)
	}
	if ok, _ := mr.SIsMember(indexKey(), "1001"); !ok {
		t.Fatalf("game not indexed")
	}
}

func TestLoadMissing(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Load(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestLoadAllPrunesExpired(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.Save(ctx, domain.SessionRecord{GameID: id, BoardSize: 9}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	mr.Del(sessionKey("a"))

	recs, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(recs) != 1 || recs[0].GameID != "b" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if ok, _ := mr.SIsMember(indexKey(), "a"); ok {
		t.Fatalf("expired id still indexed")
	}
}

func TestDeleteRemovesIndex(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	_ = s.Save(ctx, domain.SessionRecord{GameID: "x", BoardSize: 13, UpdatedAt: time.Now()})

	if err := s.Delete(ctx, "x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(sessionKey("x")) {
		t.Fatalf("record survived delete")
	}
	if ok, _ := mr.SIsMember(indexKey(), "x"); ok {
		t.Fatalf("index survived delete")
	}
	if err := s.Delete(ctx, "x"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:pw@localhost:6380/3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 3 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := parseRedisURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := NewRedisStore("  ", nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
