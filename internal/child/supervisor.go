// Package child supervises the single managed process a failover node
// activates on promotion and kills on demotion or shutdown (§4.3).
package child

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Supervisor owns at most one running child process at a time.
type Supervisor struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	logger *slog.Logger
}

// New returns a Supervisor with no process running.
func New(logger *slog.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Spawn splits instructions on ASCII spaces and starts the resulting argv.
// A prior child, if any, is left running — callers are expected to Kill
// before Spawn when replacing the managed process (§4.3, §4.7.1).
func (s *Supervisor) Spawn(instructions string) error {
	fields := strings.Split(strings.TrimSpace(instructions), " ")
	if len(fields) == 0 || fields[0] == "" {
		return fmt.Errorf("spawning child: empty instructions")
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning child %q: %w", instructions, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	s.logger.Info("child process started", "pid", cmd.Process.Pid, "instructions", instructions)
	return nil
}

// Running reports whether a child process is currently tracked.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Kill terminates the tracked child, if any, and stops tracking it. It does
// not wait for the process table entry to clear; a background cmd.Wait reaps
// it so Kill never blocks the heartbeat loop on a wedged child.
func (s *Supervisor) Kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil {
		return
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Kill(); err != nil {
		s.logger.Warn("killing child process", "pid", pid, "error", err)
	} else {
		s.logger.Info("child process killed", "pid", pid)
	}
	go cmd.Wait()
}
