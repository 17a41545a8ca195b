// Command randomgtp is a GTP engine that plays random legal moves. It is
// handy for exercising the bot without a real engine installed.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "randomgtp",
		Usage: "GTP engine playing random legal moves",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "seed", Usage: "random seed (0 uses the clock)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			seed := uint64(cmd.Int("seed"))
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			return serve(newEngine(seed), os.Stdin, os.Stdout)
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("randomgtp: %v", err)
	}
}

// serve answers commands from r until quit or EOF.
func serve(e *engine, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	out := bufio.NewWriter(w)
	for sc.Scan() {
		resp, ok, quit := e.handle(sc.Text())
		if !ok {
			continue
		}
		if _, err := fmt.Fprint(out, resp); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
	return sc.Err()
}
