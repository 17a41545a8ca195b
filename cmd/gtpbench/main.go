// Command gtpbench measures genmove latency of a GTP engine driven through
// the bridge.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/park285/gtp-ogs-bot/internal/coords"
	"github.com/park285/gtp-ogs-bot/internal/gtp"
	"github.com/park285/gtp-ogs-bot/internal/session"
)

func main() {
	cmd := &cli.Command{
		Name:      "gtpbench",
		Usage:     "benchmark genmove latency of a GTP engine",
		ArgsUsage: "<engine> [engine args...]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "moves", Aliases: []string{"n"}, Value: 20, Usage: "number of genmove requests"},
			&cli.IntFlag{Name: "size", Value: 19, Usage: "board size"},
			&cli.DurationFlag{Name: "timeout", Value: time.Minute, Usage: "per-move timeout"},
			&cli.BoolFlag{Name: "verbose", Usage: "log engine traffic to stderr"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return fmt.Errorf("engine path required")
			}
			logger := zap.NewNop()
			if cmd.Bool("verbose") {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l
			}
			engine := gtp.New(cmd.Args().First(), cmd.Args().Tail(), gtp.WithLogger(logger))
			res, err := bench(ctx, engine, int(cmd.Int("size")), int(cmd.Int("moves")), cmd.Duration("timeout"))
			if err != nil {
				return err
			}
			res.print(os.Stdout)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("gtpbench: %v", err)
	}
}

type result struct {
	moves   []string
	samples []time.Duration
}

// bench plays n engine moves on one board, alternating colors, and times
// each GetMove (which includes the full position replay).
func bench(ctx context.Context, engine *gtp.Bridge, size, n int, timeout time.Duration) (*result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("moves must be positive")
	}
	s, err := session.New("bench", size)
	if err != nil {
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Stop(sctx)
	}()

	res := &result{}
	for i := 0; i < n; i++ {
		mctx, cancel := context.WithTimeout(ctx, timeout)
		started := time.Now()
		move, err := engine.GetMove(mctx, s)
		elapsed := time.Since(started)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", i+1, err)
		}
		res.samples = append(res.samples, elapsed)
		res.moves = append(res.moves, move)

		if strings.EqualFold(move, "resign") {
			break
		}
		p, err := coords.FromGTP(move, size)
		if err != nil {
			return nil, fmt.Errorf("move %d: engine answered %q: %w", i+1, move, err)
		}
		if err := s.ApplyMove(s.Turn(), p); err != nil {
			return nil, fmt.Errorf("move %d: %w", i+1, err)
		}
	}
	return res, nil
}

type summary struct {
	Min, Avg, P50, Max time.Duration
}

func summarize(samples []time.Duration) summary {
	if len(samples) == 0 {
		return summary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return summary{
		Min: sorted[0],
		Avg: total / time.Duration(len(sorted)),
		P50: sorted[(len(sorted)-1)/2],
		Max: sorted[len(sorted)-1],
	}
}

func (r *result) print(w io.Writer) {
	sum := summarize(r.samples)
	fmt.Fprintf(w, "moves: %d (%s)\n", len(r.samples), strings.Join(r.moves, " "))
	fmt.Fprintf(w, "min %v  avg %v  p50 %v  max %v\n", sum.Min, sum.Avg, sum.P50, sum.Max)
}
