package connection

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unblu/unblu-mcp/internal/apierr"
)

// State is the supervisor lifecycle state for one environment.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateDead
	StateRestarting
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateDead:
		return "DEAD"
	case StateRestarting:
		return "RESTARTING"
	case StateTornDown:
		return "TORN_DOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	defaultStartTimeout = 10 * time.Second
	defaultStopTimeout  = 5 * time.Second
	authCheckTimeout    = 10 * time.Second
	probeTimeout        = 500 * time.Millisecond
	initialPollInterval = 100 * time.Millisecond
	maxPollInterval     = time.Second
)

// forwardProcess is the handle to a started port-forward subprocess.
type forwardProcess interface {
	// Alive reports whether the subprocess is still running.
	Alive() bool
	// Stop terminates the subprocess, escalating to kill after timeout.
	Stop(timeout time.Duration)
}

// KubeProvider supervises a kubectl port-forward for one environment.
//
// Ownership of the local port is arbitrated through the port itself:
// a port that already accepts connections is assumed to belong to a
// sibling process (or a manually started forward) and is reused
// without starting or ever stopping a subprocess for it. Only a
// forward this instance started is torn down by this instance.
type KubeProvider struct {
	env             Environment
	trustedUserID   string
	trustedUserRole string
	logger          *zap.Logger

	// mu serializes the check-and-start decision. It is held across
	// EnsureConnection's probe/spawn/poll sequence only, never across
	// a request.
	mu    sync.Mutex
	state State
	proc  forwardProcess
	owns  bool

	startTimeout time.Duration
	stopTimeout  time.Duration

	// Seams replaced by tests; production values are set in
	// NewKubeProvider.
	lookPath  func(file string) (string, error)
	checkAuth func(ctx context.Context, namespace string) error
	spawn     func(env Environment) (forwardProcess, error)
	probe     func(port int) bool
}

// NewKubeProvider creates a supervisor for env using trusted-header
// authentication. Defaults: superadmin / SUPER_ADMIN, matching the
// operator account on Unblu cluster deployments.
func NewKubeProvider(env Environment, trustedUserID, trustedUserRole string, logger *zap.Logger) *KubeProvider {
	if trustedUserID == "" {
		trustedUserID = "superadmin"
	}
	if trustedUserRole == "" {
		trustedUserRole = "SUPER_ADMIN"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KubeProvider{
		env:             env,
		trustedUserID:   trustedUserID,
		trustedUserRole: trustedUserRole,
		logger:          logger,
		startTimeout:    defaultStartTimeout,
		stopTimeout:     defaultStopTimeout,
		lookPath:        exec.LookPath,
		checkAuth:       kubectlAuthCheck,
		spawn:           startKubectlForward,
		probe:           probeLocalPort,
	}
}

// Environment returns the environment this supervisor serves.
func (p *KubeProvider) Environment() Environment { return p.env }

// State returns the current lifecycle state.
func (p *KubeProvider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OwnsProcess reports whether this instance started the forward it is
// currently using.
func (p *KubeProvider) OwnsProcess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owns
}

// Setup starts the forward (or adopts an existing one) ahead of the
// first request. Idempotent.
func (p *KubeProvider) Setup(ctx context.Context) error {
	return p.EnsureConnection(ctx)
}

// EnsureConnection guarantees a reachable endpoint on return. A dead
// owned subprocess, or a port that stopped accepting connections
// (covering a sibling's forward dying too), triggers a restart that
// re-arbitrates port ownership from scratch.
func (p *KubeProvider) EnsureConnection(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateTornDown:
		return apierr.Configuration(
			"create a new provider; this one has been torn down",
			"connection provider for %q is torn down", p.env.Name)
	case StateRunning:
		if p.healthyLocked() {
			return nil
		}
		p.logger.Warn("port-forward lost, restarting",
			zap.String("environment", p.env.Name),
			zap.Int("port", p.env.LocalPort),
			zap.Bool("owned", p.owns),
		)
		p.dropProcessLocked()
		p.state = StateRestarting
	case StateUninitialized, StateDead:
		p.state = StateStarting
	}

	return p.startLocked(ctx)
}

// healthyLocked checks the committed state: an owned subprocess must
// still be running and the port must accept connections.
func (p *KubeProvider) healthyLocked() bool {
	if p.owns && p.proc != nil && !p.proc.Alive() {
		return false
	}
	return p.probe(p.env.LocalPort)
}

func (p *KubeProvider) dropProcessLocked() {
	if p.owns && p.proc != nil {
		p.proc.Stop(p.stopTimeout)
	}
	p.proc = nil
	p.owns = false
}

// startLocked runs the prerequisite checks, arbitrates port ownership
// and, when this instance wins, starts the subprocess and waits for
// the port. Called with mu held, in state STARTING or RESTARTING.
func (p *KubeProvider) startLocked(ctx context.Context) error {
	if _, err := p.lookPath("kubectl"); err != nil {
		p.state = StateDead
		return apierr.Configuration(
			"install kubectl and make sure it is in PATH",
			"kubectl not found in PATH")
	}
	if err := p.checkAuth(ctx, p.env.Namespace); err != nil {
		p.state = StateDead
		return apierr.Configuration(
			"authenticate your kubectl context for the target cluster, then retry",
			"kubectl context is not authenticated for namespace %s: %v", p.env.Namespace, err)
	}

	// Port arbitration: an occupied port belongs to somebody else.
	if p.probe(p.env.LocalPort) {
		p.owns = false
		p.proc = nil
		p.state = StateRunning
		p.logger.Info("reusing existing port-forward",
			zap.String("environment", p.env.Name),
			zap.Int("port", p.env.LocalPort),
		)
		return nil
	}

	proc, err := p.spawn(p.env)
	if err != nil {
		p.state = StateDead
		return apierr.Configuration(
			"check that kubectl can reach the cluster",
			"start kubectl port-forward: %v", err)
	}
	p.logger.Info("started kubectl port-forward",
		zap.String("environment", p.env.Name),
		zap.String("namespace", p.env.Namespace),
		zap.String("service", p.env.Service),
		zap.Int("port", p.env.LocalPort),
	)

	// Poll with backoff until the port is connectable or the start
	// budget is spent.
	deadline := time.Now().Add(p.startTimeout)
	interval := initialPollInterval
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			proc.Stop(p.stopTimeout)
			p.state = StateDead
			return apierr.Configuration(
				"retry the call", "port-forward start interrupted: %v", ctx.Err())
		case <-time.After(interval):
		}
		if interval < maxPollInterval {
			interval *= 2
		}

		if !proc.Alive() {
			// The subprocess exited on its own. If the port is now
			// occupied we lost the bind race to a sibling; reuse its
			// forward. Otherwise the start genuinely failed.
			if p.probe(p.env.LocalPort) {
				p.owns = false
				p.proc = nil
				p.state = StateRunning
				p.logger.Info("lost port race, reusing sibling port-forward",
					zap.Int("port", p.env.LocalPort))
				return nil
			}
			p.state = StateDead
			return apierr.Configuration(
				fmt.Sprintf("check that service %s exists in namespace %s", p.env.Service, p.env.Namespace),
				"kubectl port-forward exited before port %d became ready", p.env.LocalPort)
		}
		if p.probe(p.env.LocalPort) {
			p.proc = proc
			p.owns = true
			p.state = StateRunning
			return nil
		}
	}

	proc.Stop(p.stopTimeout)
	p.state = StateDead
	return apierr.Configuration(
		"check cluster connectivity and retry",
		"port-forward to %s timed out waiting for local port %d", p.env.Namespace, p.env.LocalPort)
}

// Config returns the endpoint behind the forward with trusted-header
// authentication. No I/O, no lock: everything it reads is immutable.
func (p *KubeProvider) Config() Config {
	return Config{
		BaseURL: fmt.Sprintf("http://localhost:%d%s", p.env.LocalPort, p.env.APIPath),
		Headers: map[string]string{
			"x-unblu-trusted-user-id":   p.trustedUserID,
			"x-unblu-trusted-user-role": p.trustedUserRole,
		},
		Timeout: DefaultTimeout,
	}
}

// HealthCheck probes the local port. It never restarts anything;
// restart is EnsureConnection's job, done lazily before use.
func (p *KubeProvider) HealthCheck(context.Context) bool {
	return p.probe(p.env.LocalPort)
}

// Teardown stops the forward if and only if this instance started it,
// leaving a sibling's forward untouched. Safe to call repeatedly and
// before any successful Setup.
func (p *KubeProvider) Teardown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropProcessLocked()
	p.state = StateTornDown
	return nil
}

// probeLocalPort reports whether the port accepts TCP connections.
func probeLocalPort(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// kubectlAuthCheck verifies there is an active, authenticated kubectl
// context with access to the namespace. Both calls are bounded so a
// hanging kubectl cannot hang the supervisor.
func kubectlAuthCheck(ctx context.Context, namespace string) error {
	ctx, cancel := context.WithTimeout(ctx, authCheckTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, "kubectl", "config", "current-context").Run(); err != nil {
		return fmt.Errorf("no active kubectl context: %w", err)
	}
	if err := exec.CommandContext(ctx, "kubectl", "auth", "can-i", "get", "pods", "-n", namespace).Run(); err != nil {
		return fmt.Errorf("cannot access namespace %s: %w", namespace, err)
	}
	return nil
}

// execForward wraps a started kubectl subprocess.
type execForward struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// startKubectlForward spawns kubectl port-forward for env.
func startKubectlForward(env Environment) (forwardProcess, error) {
	cmd := exec.Command("kubectl", "port-forward",
		"-n", env.Namespace,
		"svc/"+env.Service,
		fmt.Sprintf("%d:%d", env.LocalPort, env.ServicePort),
	)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	f := &execForward{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait() //nolint:errcheck
		close(f.done)
	}()
	return f, nil
}

func (f *execForward) Alive() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

func (f *execForward) Stop(timeout time.Duration) {
	if f.cmd.Process == nil {
		return
	}
	f.cmd.Process.Signal(syscall.SIGTERM) //nolint:errcheck
	select {
	case <-f.done:
	case <-time.After(timeout):
		f.cmd.Process.Kill() //nolint:errcheck
		<-f.done
	}
}

var _ Provider = (*KubeProvider)(nil)
var _ Provider = (*DefaultProvider)(nil)
