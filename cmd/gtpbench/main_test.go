package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/gtp-ogs-bot/internal/gtp"
)

const scriptedEngine = `#!/bin/sh
n=0
while IFS= read -r line; do
  case "$line" in
    quit) printf '=\n\n'; exit 0 ;;
    genmove*)
      n=$((n+1))
      case $n in
        1) v=A1 ;;
        2) v=B2 ;;
        3) v=C3 ;;
        *) v=resign ;;
      esac
      printf '= %s\n\n' "$v" ;;
    *) printf '=\n\n' ;;
  esac
done
`

func TestBenchCollectsSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte(scriptedEngine), 0o755); err != nil {
		t.Fatalf("write engine: %v", err)
	}
	engine := gtp.New("/bin/sh", []string{path}, gtp.WithQuitTimeout(300*time.Millisecond))

	res, err := bench(context.Background(), engine, 9, 10, 5*time.Second)
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if got := strings.Join(res.moves, " "); got != "A1 B2 C3 resign" {
		t.Fatalf("moves = %q", got)
	}
	if len(res.samples) != 4 {
		t.Fatalf("samples = %d", len(res.samples))
	}
	if engine.State() != gtp.StateStopped {
		t.Fatalf("engine left %v", engine.State())
	}

	var out bytes.Buffer
	res.print(&out)
	if !strings.Contains(out.String(), "moves: 4") || !strings.Contains(out.String(), "p50") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestBenchRejectsBadInput(t *testing.T) {
	engine := gtp.New("/bin/true", nil)
	if _, err := bench(context.Background(), engine, 9, 0, time.Second); err == nil {
		t.Fatalf("expected error for zero moves")
	}
	if _, err := bench(context.Background(), engine, 40, 1, time.Second); err == nil {
		t.Fatalf("expected error for board size")
	}
}

func TestSummarize(t *testing.T) {
	s := summarize([]time.Duration{40 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond, 20 * time.Millisecond})
	if s.Min != 10*time.Millisecond || s.Max != 40*time.Millisecond {
		t.Fatalf("min/max = %v/%v", s.Min, s.Max)
	}
	if s.Avg != 25*time.Millisecond || s.P50 != 20*time.Millisecond {
		t.Fatalf("avg/p50 = %v/%v", s.Avg, s.P50)
	}
	if (summarize(nil) != summary{}) {
		t.Fatalf("empty summary not zero")
	}
}
