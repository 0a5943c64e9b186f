package shell

import (
	"os"
	"os/exec"
	"syscall"
)

// Daemon is a handle to a detached long-lived child. The cycle launches
// exactly one (gastown-trace) and never terminates it; interrupt handling
// only logs the PID. That non-cleanup is intentional.
type Daemon struct {
	PID     int
	LogPath string
	proc    *os.Process
}

// StartDaemon launches c with stdout and stderr redirected to logPath and
// returns without waiting. The child keeps running after gtcycle exits.
func (r *Runner) StartDaemon(c Cmd, logPath string) (*Daemon, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	cmd.Stdout = f
	cmd.Stderr = f

	if err := cmd.Start(); err != nil {
		f.Close()
		return nil, err
	}
	f.Close() // the child holds its own descriptor

	// Reap in the background so an early death does not leave a zombie.
	go func() { _ = cmd.Wait() }()

	return &Daemon{PID: cmd.Process.Pid, LogPath: logPath, proc: cmd.Process}, nil
}

// Alive reports whether the daemon process still accepts signal 0.
func (d *Daemon) Alive() bool {
	if d == nil || d.proc == nil {
		return false
	}
	return d.proc.Signal(syscall.Signal(0)) == nil
}
