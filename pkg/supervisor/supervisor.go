// Package supervisor implements VoiceMode's Service Supervisor component:
// start/stop/restart/status/logs for opaque local helper processes (local
// TTS/STT binaries, the room server), kept entirely out-of-band from the
// turn path. Grounded on cmd/agent/main.go's process lifecycle — this is
// the same graceful-shutdown, context-cancellation idiom the teacher uses
// for itself, generalized from "the one process this binary is" into
// "named child processes this binary supervises".
package supervisor

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// Spec describes one supervisable service: how to start it and where its
// logs land.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     []string
	LogPath string
}

// Status is the status() result from spec §4.9.
type Status struct {
	Running bool
	PID     int
	Uptime  time.Duration
	Port    int
}

type managedProcess struct {
	spec      Spec
	mu        sync.Mutex
	cmd       *exec.Cmd
	startedAt time.Time
	logFile   *os.File
}

// BootManager abstracts "enable/disable at system boot" across platform
// service managers, per spec §4.9's "abstract interface implemented per OS".
// VoiceMode only ships the systemd --user implementation; other platforms
// get NoOpBootManager until a concrete need arises.
type BootManager interface {
	Enable(spec Spec) error
	Disable(name string) error
}

// NoOpBootManager reports success without touching the platform's service
// manager; it's the default on platforms with no implementation.
type NoOpBootManager struct{}

func (NoOpBootManager) Enable(Spec) error    { return nil }
func (NoOpBootManager) Disable(string) error { return nil }

// SystemdUserBootManager writes/removes a systemd --user unit file and
// (re)runs `systemctl --user enable/disable`, the common Linux desktop path
// for "start this helper at login".
type SystemdUserBootManager struct {
	UnitDir string // defaults to ~/.config/systemd/user
}

func (m SystemdUserBootManager) unitDir() string {
	if m.UnitDir != "" {
		return m.UnitDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/systemd/user"
	}
	return home + "/.config/systemd/user"
}

func (m SystemdUserBootManager) Enable(spec Spec) error {
	dir := m.unitDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return voicemode.NewInternal("failed to create systemd user unit dir", err)
	}
	unit := "[Unit]\nDescription=voicemode " + spec.Name + "\n\n[Service]\nExecStart=" + spec.Command
	for _, a := range spec.Args {
		unit += " " + a
	}
	unit += "\nRestart=on-failure\n\n[Install]\nWantedBy=default.target\n"
	path := dir + "/voicemode-" + spec.Name + ".service"
	if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
		return voicemode.NewInternal("failed to write systemd unit", err)
	}
	return exec.Command("systemctl", "--user", "enable", "voicemode-"+spec.Name+".service").Run()
}

func (m SystemdUserBootManager) Disable(name string) error {
	return exec.Command("systemctl", "--user", "disable", "voicemode-"+name+".service").Run()
}

// Supervisor tracks zero or more named helper processes. The Turn Engine
// never spawns these synchronously; it may only call Status to refuse a
// call with a helpful error.
type Supervisor struct {
	mu       sync.Mutex
	services map[string]*managedProcess
	logger   voicemode.Logger
	boot     BootManager
}

func New(logger voicemode.Logger) *Supervisor {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	return &Supervisor{services: make(map[string]*managedProcess), logger: logger, boot: NoOpBootManager{}}
}

// SetBootManager overrides the platform boot-registration strategy (default
// NoOpBootManager); cmd/voicemode wires SystemdUserBootManager on Linux.
func (s *Supervisor) SetBootManager(m BootManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boot = m
}

// EnableAtBoot registers the named service with the platform's service
// manager so it starts at login/boot.
func (s *Supervisor) EnableAtBoot(name string) error {
	mp, err := s.get(name)
	if err != nil {
		return err
	}
	mp.mu.Lock()
	spec := mp.spec
	mp.mu.Unlock()
	return s.boot.Enable(spec)
}

// DisableAtBoot removes the named service from the platform's service
// manager.
func (s *Supervisor) DisableAtBoot(name string) error {
	if _, err := s.get(name); err != nil {
		return err
	}
	return s.boot.Disable(name)
}

// Register adds a service definition without starting it.
func (s *Supervisor) Register(spec Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[spec.Name] = &managedProcess{spec: spec}
}

func (s *Supervisor) get(name string) (*managedProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mp, ok := s.services[name]
	if !ok {
		return nil, voicemode.NewConfigError("unknown service: "+name, nil)
	}
	return mp, nil
}

// Start launches the named service if it isn't already running.
func (s *Supervisor) Start(name string) error {
	mp, err := s.get(name)
	if err != nil {
		return err
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.cmd != nil && mp.cmd.Process != nil && !processExited(mp.cmd) {
		return nil // already running
	}

	cmd := exec.Command(mp.spec.Command, mp.spec.Args...)
	cmd.Env = append(os.Environ(), mp.spec.Env...)

	if mp.spec.LogPath != "" {
		f, err := os.OpenFile(mp.spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return voicemode.NewInternal("failed to open log file for "+name, err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
		mp.logFile = f
	}

	if err := cmd.Start(); err != nil {
		if mp.logFile != nil {
			mp.logFile.Close()
			mp.logFile = nil
		}
		return voicemode.NewInternal("failed to start service "+name, err)
	}

	mp.cmd = cmd
	mp.startedAt = time.Now()
	s.logger.Info("supervisor: started %s (pid=%d)", name, cmd.Process.Pid)

	go func() {
		cmd.Wait()
	}()
	return nil
}

// Stop sends SIGTERM and waits briefly for the process to exit.
func (s *Supervisor) Stop(name string) error {
	mp, err := s.get(name)
	if err != nil {
		return err
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.cmd == nil || mp.cmd.Process == nil {
		return nil
	}
	if err := mp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return voicemode.NewInternal("failed to signal service "+name, err)
	}

	done := make(chan struct{})
	go func() {
		mp.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		mp.cmd.Process.Kill()
	}

	if mp.logFile != nil {
		mp.logFile.Close()
		mp.logFile = nil
	}
	mp.cmd = nil
	s.logger.Info("supervisor: stopped %s", name)
	return nil
}

// Restart stops then starts the named service.
func (s *Supervisor) Restart(name string) error {
	if err := s.Stop(name); err != nil {
		return err
	}
	return s.Start(name)
}

// Status reports whether name is running and for how long.
func (s *Supervisor) Status(name string) (Status, error) {
	mp, err := s.get(name)
	if err != nil {
		return Status{}, err
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.cmd == nil || mp.cmd.Process == nil || processExited(mp.cmd) {
		return Status{Running: false}, nil
	}
	return Status{
		Running: true,
		PID:     mp.cmd.Process.Pid,
		Uptime:  time.Since(mp.startedAt),
	}, nil
}

// Services lists the names of every registered service, sorted for stable
// display by voice_status.
func (s *Supervisor) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Logs returns the last tailN lines written to the service's log file.
func (s *Supervisor) Logs(name string, tailN int) ([]string, error) {
	mp, err := s.get(name)
	if err != nil {
		return nil, err
	}
	mp.mu.Lock()
	path := mp.spec.LogPath
	mp.mu.Unlock()
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, voicemode.NewInternal("failed to open log file for "+name, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > tailN {
			lines = lines[1:]
		}
	}
	return lines, nil
}

func processExited(cmd *exec.Cmd) bool {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.Exited()
	}
	return false
}

// WaitShutdown blocks until ctx is cancelled, then stops every registered
// service — the same SIGINT/SIGTERM-driven teardown cmd/agent/main.go does
// for itself, applied here to the processes this binary supervises.
func (s *Supervisor) WaitShutdown(ctx context.Context) {
	<-ctx.Done()
	s.mu.Lock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Stop(name); err != nil {
			s.logger.Warn("supervisor: error stopping %s during shutdown: %v", name, err)
		}
	}
}
