// Package service implements the service lifecycle state machine of §4.4:
// long-lived scripts that are started on demand by consumers and stopped
// when no consumer needs them (or on abort), with hand-off of a running
// child process across re-analysis iterations in watch mode.
package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/wireit-go/wireit/internal/fingerprint"
	"github.com/wireit-go/wireit/internal/graph"
)

// State is one node of the §4.4 state graph.
type State int

const (
	StateInitial State = iota
	StateExecutingDeps
	StateFingerprinting
	StateStoppingAdoptee
	StateUnstarted
	StateDepsStarting
	StateStarting
	StateStarted
	StateStopping
	StateFailing
	StateStopped
	StateFailed
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateExecutingDeps:
		return "executingDeps"
	case StateFingerprinting:
		return "fingerprinting"
	case StateStoppingAdoptee:
		return "stoppingAdoptee"
	case StateUnstarted:
		return "unstarted"
	case StateDepsStarting:
		return "depsStarting"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateFailing:
		return "failing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of {stopped, failed, detached}.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed || s == StateDetached
}

// Service tracks one service-per-executor instance. Exactly one child
// process is associated with a Service at a time, except in the brief
// window where an adoptee hands its child to a new execution (§4.4
// invariant).
type Service struct {
	Ref    graph.ScriptReference
	Config *graph.ScriptConfig

	// AdoptionID identifies this service instance across executor
	// iterations so the watcher can hand it to the next one (§4.5 "service
	// continuity").
	AdoptionID string

	mu          sync.Mutex
	state       State
	cmd         *exec.Cmd
	waitCh      chan error // result of cmd.Wait(), read exactly once, by whichever Service spawned it
	stdoutPipeW *io.PipeWriter
	// handoffTo is set by takeCmd when this service detaches in favor of an
	// adopting Service; the original supervising goroutine forwards the
	// eventual exit along this chain until it reaches the current owner.
	handoffTo *Service
	fp        fingerprint.Result

	done     chan struct{} // closed exactly once, on stopped/failed/detached
	doneOnce sync.Once

	consumers int
}

// New constructs a Service in StateInitial.
func New(ref graph.ScriptReference, cfg *graph.ScriptConfig) *Service {
	return &Service{
		Ref:        ref,
		Config:     cfg,
		AdoptionID: uuid.NewString(),
		state:      StateInitial,
		done:       make(chan struct{}),
	}
}

// State returns the current state under lock.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fingerprint is observable only in {stoppingAdoptee, unstarted,
// depsStarting, starting, started} per §4.4's invariant; it returns the
// zero value and false outside those states.
func (s *Service) Fingerprint() (fingerprint.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStoppingAdoptee, StateUnstarted, StateDepsStarting, StateStarting, StateStarted:
		return s.fp, true
	default:
		return fingerprint.Result{}, false
	}
}

func (s *Service) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Done returns a channel closed exactly once, when the service reaches
// stopped or failed (§4.4's "terminated promise"), or when Detach is called.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) resolveTerminated() {
	s.doneOnce.Do(func() { close(s.done) })
}

// ExecuteDeps transitions initial -> executingDeps -> fingerprinting (or
// failed). depsErr is the aggregated dependency failure, if any.
func (s *Service) ExecuteDeps(ctx context.Context, depsErr error, fp fingerprint.Result) error {
	s.setState(StateExecutingDeps)
	if depsErr != nil {
		s.setState(StateFailed)
		s.resolveTerminated()
		return depsErr
	}
	s.mu.Lock()
	s.fp = fp
	s.mu.Unlock()
	s.setState(StateFingerprinting)
	return nil
}

// Adopt transitions fingerprinting -> (stoppingAdoptee ->) unstarted. When
// adoptee is non-nil and its fingerprint matches fp, the adoptee's running
// child is handed over directly (fingerprinting -> unstarted) without a
// stop/restart cycle; otherwise the adoptee is stopped first.
func (s *Service) Adopt(ctx context.Context, adoptee *Service) error {
	if adoptee != nil {
		adopteeFP, ok := adoptee.Fingerprint()
		if ok && adopteeFP.Hash == s.fp.Hash {
			cmd, waitCh := adoptee.takeCmd(s)
			s.mu.Lock()
			s.cmd, s.waitCh = cmd, waitCh
			s.mu.Unlock()
			s.setState(StateUnstarted)
			return nil
		}
		s.setState(StateStoppingAdoptee)
		if err := adoptee.Stop(ctx); err != nil {
			return err
		}
	}
	s.setState(StateUnstarted)
	return nil
}

// takeCmd hands this service's running child over to an adopting Service
// (newOwner). The in-flight Wait() result channel is recorded on newOwner
// but NOT re-read here: this service's own supervising goroutine remains
// the sole reader of it, forwarding the eventual exit to newOwner via
// handoffTo (§4.4's "exactly one child process is associated with a
// service" invariant extends to who is allowed to reap it).
func (s *Service) takeCmd(newOwner *Service) (*exec.Cmd, chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, waitCh := s.cmd, s.waitCh
	s.cmd, s.waitCh = nil, nil
	s.handoffTo = newOwner
	s.setStateLocked(StateDetached)
	return cmd, waitCh
}

func (s *Service) setStateLocked(next State) {
	s.state = next
}

// AddConsumer registers a consumer. A call made while the service is
// unstarted moves it to depsStarting (§4.4's unstarted -> depsStarting
// transition). No config field marks a service persistent, so a consumer
// is the only trigger for that transition.
func (s *Service) AddConsumer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers++
	if s.state == StateUnstarted {
		s.state = StateDepsStarting
	}
	return s.consumers
}

// RemoveConsumer unregisters a consumer; if none remain, the caller should
// call Stop.
func (s *Service) RemoveConsumer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumers > 0 {
		s.consumers--
	}
	return s.consumers
}

// UpstreamReady signals that all upstream services this service depends on
// have reached started (depsStarting -> starting).
func (s *Service) UpstreamReady() {
	s.setState(StateStarting)
}

// Start spawns the child (if one was not handed over by Adopt) and blocks
// until the readiness condition is satisfied (starting -> started), or
// until the child exits/fails to spawn (starting -> failed).
func (s *Service) Start(ctx context.Context, env []string, stdout, stderr io.Writer) error {
	s.mu.Lock()
	already := s.cmd != nil
	s.mu.Unlock()

	if already {
		// The process itself is already running, handed over by Adopt; its
		// original supervising goroutine (on the service that first spawned
		// it) remains the sole reader of the Wait() result and will forward
		// the eventual exit to this service via the handoffTo chain.
		s.setState(StateStarted)
		return nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", s.Config.Command)
	cmd.Dir = s.Ref.PackageDir
	cmd.Env = env

	readyCh := make(chan struct{}, 1)
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { readyCh <- struct{}{} }) }

	pr, pw := io.Pipe()
	cmd.Stdout = io.MultiWriter(stdout, pw)
	cmd.Stderr = stderr

	if s.Config.Ready.LineMatches == nil {
		// Ready as soon as the process has started (§4.4).
		go io.Copy(io.Discard, pr)
	} else {
		go watchReadyLine(pr, s.Config.Ready.LineMatches, signalReady)
	}

	if err := cmd.Start(); err != nil {
		pw.Close()
		s.setState(StateFailed)
		s.resolveTerminated()
		return fmt.Errorf("starting service %s: %w", s.Ref, err)
	}
	exited := make(chan error, 1)
	s.mu.Lock()
	s.cmd = cmd
	s.waitCh = exited
	s.stdoutPipeW = pw
	s.mu.Unlock()
	go func() { exited <- cmd.Wait() }()

	if s.Config.Ready.LineMatches == nil {
		signalReady()
	}

	select {
	case <-readyCh:
		s.setState(StateStarted)
		go s.superviseExit()
		return nil
	case err := <-exited:
		pw.Close()
		s.setState(StateFailed)
		s.resolveTerminated()
		return fmt.Errorf("service %s exited before becoming ready: %w", s.Ref, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func watchReadyLine(r io.Reader, pattern *regexp.Regexp, signal func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if pattern.MatchString(scanner.Text()) {
			signal()
		}
	}
}

// superviseExit watches a started service's child for exit. It is the sole
// reader of s.waitCh for the process's entire lifetime, spawned exactly
// once by whichever Start() call actually created the process; a hand-off
// via Adopt does not spawn a second reader, it only extends the
// handoffTo chain that onChildExited follows.
func (s *Service) superviseExit() {
	s.mu.Lock()
	waitCh := s.waitCh
	pw := s.stdoutPipeW
	s.mu.Unlock()
	if waitCh == nil {
		return
	}
	err := <-waitCh
	if pw != nil {
		pw.Close()
	}
	s.onChildExited(err)
}

// onChildExited applies the exit to whichever service currently owns this
// process: itself if still live, or the service it was detached in favor
// of, walking the handoffTo chain until it finds a non-detached owner
// (started -> failing -> failed, or stopping -> stopped, §4.4).
func (s *Service) onChildExited(err error) {
	s.mu.Lock()
	state := s.state
	handoffTo := s.handoffTo
	s.mu.Unlock()

	switch state {
	case StateStopping:
		s.setState(StateStopped)
		s.resolveTerminated()
	case StateDetached:
		if handoffTo != nil {
			handoffTo.onChildExited(err)
		}
	default:
		s.setState(StateFailing)
		s.setState(StateFailed)
		s.resolveTerminated()
	}
}

// FailUpstream transitions started -> failing when a service this one
// depends on has exited unexpectedly, killing the child; superviseExit
// observes the exit and completes the -> failed transition.
func (s *Service) FailUpstream(ctx context.Context) {
	s.setState(StateFailing)
	_ = s.killChild(ctx)
}

// Stop transitions started -> stopping -> stopped, signalling and waiting
// for the child to exit (via superviseExit, which alone reads s.waitCh). It
// is idempotent.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		s.setState(StateStopped)
		s.resolveTerminated()
		return nil
	}
	_ = cmd.Process.Kill()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) killChild(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}

// Detach marks the service as handed off to a new executor instance
// (started -> detached); the child process itself survives.
func (s *Service) Detach() {
	s.setState(StateDetached)
	s.resolveTerminated()
}
