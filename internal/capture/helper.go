package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/wire"
)

const (
	defaultStartTimeout = 5 * time.Second
	defaultKillTimeout  = 5 * time.Second
	pollInterval        = 100 * time.Millisecond
)

// HelperConfig describes a helper process.
type HelperConfig struct {
	// Name identifies the helper in logs and names its PID file.
	Name    string
	Command string
	Args    []string
	// Env is appended to the host environment.
	Env []string
	// RuntimeDir holds the PID file. Empty disables PID tracking.
	RuntimeDir string
	Handler    Handler
	Logger     *slog.Logger

	// StartTimeout and KillTimeout default to 5s.
	StartTimeout time.Duration
	KillTimeout  time.Duration
}

// HelperBackend runs an external helper process.
type HelperBackend struct {
	cfg HelperConfig
	log *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{}
	stopping bool
}

// NewHelper returns a backend for cfg. Nothing runs until Start.
func NewHelper(cfg HelperConfig) *HelperBackend {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = defaultKillTimeout
	}
	if cfg.Handler == nil {
		cfg.Handler = func(selection.Selection) {}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &HelperBackend{cfg: cfg, log: log.With("helper", cfg.Name)}
}

func (b *HelperBackend) Name() string { return b.cfg.Name }

// PIDFile returns the path of the helper's PID file, or "" if disabled.
func (b *HelperBackend) PIDFile() string {
	if b.cfg.RuntimeDir == "" {
		return ""
	}
	return filepath.Join(b.cfg.RuntimeDir, b.cfg.Name+".pid")
}

// Start kills a helper left behind by a previous run, spawns a new one in its
// own process group and records its PID.
func (b *HelperBackend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd != nil {
		return ErrAlreadyRunning
	}

	pidFile := b.PIDFile()
	if pidFile != "" {
		if pid, err := readPIDFile(pidFile); err == nil && isProcessAlive(pid) {
			b.log.Info("stopping stale capture helper", "pid", pid)
			terminateStale(pid, b.cfg.KillTimeout)
		}
	}

	cmd := exec.Command(b.cfg.Command, b.cfg.Args...)
	cmd.Env = append(os.Environ(), b.cfg.Env...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	started := make(chan error, 1)
	go func() { started <- cmd.Start() }()

	timer := time.NewTimer(b.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			return fmt.Errorf("start %s: %w", b.cfg.Name, err)
		}
	case <-timer.C:
		go abandon(cmd, started)
		return ErrStartTimeout
	case <-ctx.Done():
		go abandon(cmd, started)
		return ctx.Err()
	}

	pid := cmd.Process.Pid
	if pidFile != "" {
		if err := os.MkdirAll(b.cfg.RuntimeDir, 0o700); err == nil {
			err = atomicWriteFile(pidFile, []byte(strconv.Itoa(pid)))
			if err != nil {
				b.log.Warn("write pid file failed", "err", err)
			}
		}
	}

	b.cmd = cmd
	b.done = make(chan struct{})
	b.stopping = false
	b.log.Info("capture helper started", "pid", pid, "command", b.cfg.Command)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		b.readFrames(stdout)
	}()
	go func() {
		defer readers.Done()
		b.relayLog(stderr)
	}()
	go b.wait(cmd, &readers, b.done)

	return nil
}

// abandon kills a helper whose start was given up on, if it ever starts.
func abandon(cmd *exec.Cmd, started <-chan error) {
	if err := <-started; err == nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

func (b *HelperBackend) readFrames(r io.Reader) {
	var dec wire.Decoder
	err := dec.ReadFrom(r, b.cfg.Handler, func(err error) {
		b.log.Warn("dropping capture frame", "err", err)
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		b.log.Warn("capture stream read failed", "err", err)
	}
	if n := dec.Buffered(); n > 0 {
		b.log.Warn("capture stream ended mid-frame", "bytes", n)
	}
}

// helperRecord is the subset of a JSON slog record the helper writes.
type helperRecord struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
	Err   string `json:"err"`
}

// maxLogLine is the longest stderr line relayed; the rest of a longer line
// is discarded.
const maxLogLine = 64 * 1024

// relayLog re-emits each stderr line as a host log record. JSON slog lines
// keep their level and message; anything else is logged verbatim. It reads
// until EOF so the helper never blocks on a full stderr pipe.
func (b *HelperBackend) relayLog(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		line, truncated, err := readLine(br, maxLogLine)
		if len(line) > 0 {
			b.relayLine(line, truncated)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				b.log.Warn("helper stderr read failed", "err", err)
			}
			return
		}
	}
}

func (b *HelperBackend) relayLine(raw []byte, truncated bool) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}
	if truncated {
		b.log.Info(line, "truncated", true)
		return
	}

	var rec helperRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Msg == "" {
		b.log.Info(line)
		return
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(rec.Level)); err != nil {
		level = slog.LevelInfo
	}
	attrs := []any{}
	if rec.Err != "" {
		attrs = append(attrs, "err", rec.Err)
	}
	b.log.Log(context.Background(), level, rec.Msg, attrs...)
}

// readLine reads one line of any length from br, keeping at most limit bytes.
// truncated reports whether bytes were dropped.
func readLine(br *bufio.Reader, limit int) (line []byte, truncated bool, err error) {
	for {
		var (
			chunk    []byte
			isPrefix bool
		)
		chunk, isPrefix, err = br.ReadLine()
		if err != nil {
			return line, truncated, err
		}
		if room := limit - len(line); len(chunk) > room {
			chunk = chunk[:max(room, 0)]
			truncated = true
		}
		line = append(line, chunk...)
		if !isPrefix {
			return line, truncated, nil
		}
	}
}

func (b *HelperBackend) wait(cmd *exec.Cmd, readers *sync.WaitGroup, done chan struct{}) {
	// Wait closes the pipes, so every read must finish first.
	readers.Wait()
	err := cmd.Wait()

	b.mu.Lock()
	requested := b.stopping
	b.cmd = nil
	b.mu.Unlock()

	if pidFile := b.PIDFile(); pidFile != "" {
		if pid, perr := readPIDFile(pidFile); perr == nil && pid == cmd.Process.Pid {
			_ = os.Remove(pidFile)
		}
	}

	switch {
	case requested:
		b.log.Info("capture helper stopped")
	case err != nil:
		b.log.Error("capture helper exited unexpectedly", "err", err)
	default:
		b.log.Warn("capture helper exited")
	}
	close(done)
}

// Stop sends SIGTERM to the helper's process group, escalates to SIGKILL
// after the kill timeout and returns once the helper has been reaped.
func (b *HelperBackend) Stop() error {
	b.mu.Lock()
	if b.cmd == nil {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.stopping = true
	pid := b.cmd.Process.Pid
	done := b.done
	b.mu.Unlock()

	if err := signalTerminate(pid); err != nil {
		b.log.Debug("terminate failed", "err", err)
	}

	timer := time.NewTimer(b.cfg.KillTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	b.log.Warn("capture helper ignored SIGTERM, killing", "pid", pid)
	if err := signalKill(pid); err != nil {
		b.log.Debug("kill failed", "err", err)
	}
	<-done
	return nil
}

// IsAlive reports whether the helper is running and not yet reaped.
func (b *HelperBackend) IsAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmd != nil
}

// Done returns a channel closed when the current helper exits, or nil if no
// helper is running.
func (b *HelperBackend) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		return nil
	}
	return b.done
}

// terminateStale stops a process recorded by an earlier run. The PID may
// have been reused; that race is accepted.
func terminateStale(pid int, timeout time.Duration) {
	_ = signalTerminate(pid)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return
		}
		time.Sleep(pollInterval)
	}
	_ = signalKill(pid)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
