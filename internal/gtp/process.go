package gtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const maxLineBytes = 1 << 20

var errStreamClosed = errors.New("stdout closed")

// process is one running engine. Stdout lines are pumped into lines by a
// reader goroutine; lines is closed when stdout ends.
type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	waitErr   error
}

func spawn(path string, args []string, logger *zap.Logger) (*process, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start engine %s: %w", path, err)
	}

	p := &process{
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan string, 64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.pumpStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		drainStderr(stderr, logger)
	}()
	go func() {
		readers.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) pumpStdout(r io.Reader) {
	defer close(p.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		select {
		case p.lines <- strings.TrimRight(sc.Text(), "\r"):
		case <-p.closing:
			// keep draining so the engine never blocks on a full pipe
			_, _ = io.Copy(io.Discard, r)
			return
		}
	}
}

func drainStderr(r io.Reader, logger *zap.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		logger.Debug("engine_stderr", zap.String("line", line))
	}
}

func (p *process) send(text string) error {
	_, err := io.WriteString(p.stdin, text+"\n")
	return err
}

// readReply collects one GTP reply: leading blank lines are skipped and a
// blank line after content ends the reply.
func (p *process) readReply(ctx context.Context) ([]string, error) {
	var body []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				if len(body) == 0 {
					return nil, errStreamClosed
				}
				return body, nil
			}
			if strings.TrimSpace(line) == "" {
				if len(body) == 0 {
					continue
				}
				return body, nil
			}
			body = append(body, line)
		}
	}
}

// kill stops the pumps and the process. It is safe to call more than once
// and after the process exited on its own.
func (p *process) kill() error {
	p.stopPumps()
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill engine: %w", err)
	}
	return nil
}

func (p *process) stopPumps() {
	p.closeOnce.Do(func() {
		close(p.closing)
		_ = p.stdin.Close()
	})
}

// terminate sends SIGTERM and gives the engine grace to exit before
// killing it.
func (p *process) terminate(grace time.Duration) error {
	p.stopPumps()
	if p.cmd.Process == nil || p.exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return p.kill()
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		return nil
	case <-t.C:
	}
	return p.kill()
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// parseReply turns collected reply lines into the body or a ProtocolError.
func parseReply(command string, lines []string) (string, error) {
	first := strings.TrimSpace(lines[0])
	switch first[0] {
	case '=':
		rest := append([]string{strings.TrimPrefix(first, "=")}, lines[1:]...)
		return strings.TrimSpace(strings.Join(rest, "\n")), nil
	case '?':
		return "", &ProtocolError{Command: command, Message: strings.TrimSpace(first[1:])}
	default:
		return "", &ProtocolError{Command: command, Message: "malformed reply: " + first}
	}
}
