package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/telemetry"
)

// TaskFileEnv tells the external task source which file to watch
const TaskFileEnv = "TASKGATE_TASK_FILE"

const dialMaxElapsed = 10 * time.Second

// ErrNotConfigured is returned when no task source command is set
var ErrNotConfigured = errors.New("task source is not configured")

// Dialer opens a stream to the task source
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Handler serves the task source's requests
type Handler interface {
	// Tasks returns the current task list
	Tasks(ctx context.Context) ([]model.Task, error)
	// ApplyExternalTasks stores a task list edited outside the app
	ApplyExternalTasks(ctx context.Context, tasks []model.Task) error
}

// Manager owns the connection to the task source. The connection is opened
// on first use and reopened on the next use after it breaks.
//
// Frames are written by one writer goroutine per connection and inbound task
// lists are applied by a separate worker, so neither callers of PushTasks nor
// the read loop ever wait on the peer or on the handler.
type Manager struct {
	dial    Dialer
	handler Handler
	metrics *telemetry.Metrics
	log     *slog.Logger

	mu   sync.Mutex
	conn *session
	wg   sync.WaitGroup
}

// NewManager creates a manager. A nil dial disables the bridge.
func NewManager(dial Dialer, handler Handler, metrics *telemetry.Metrics, log *slog.Logger) *Manager {
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	return &Manager{dial: dial, handler: handler, metrics: metrics, log: log}
}

// Run connects so the task source can send reads and edits, then waits for
// ctx to end. A failed connect is logged; the next push retries.
func (m *Manager) Run(ctx context.Context) error {
	if m.dial == nil {
		return nil
	}
	if _, err := m.connect(ctx); err != nil && ctx.Err() == nil {
		m.log.Warn("Task source unavailable", "error", err)
	}
	<-ctx.Done()
	m.Close()
	return nil
}

// PushTasks queues an in-app edit of the task list for the task source. A
// list still waiting to be written is replaced by the newer one. Write
// failures are logged and drop the connection.
func (m *Manager) PushTasks(ctx context.Context, tasks []model.Task) error {
	if m.dial == nil {
		return ErrNotConfigured
	}
	s, err := m.connect(ctx)
	if err != nil {
		return err
	}
	s.push.put(tasks)
	return nil
}

// Close ends the stream gracefully
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.conn
	m.conn = nil
	m.mu.Unlock()

	if s != nil {
		s.conn.End()
		s.close()
	}
	m.wg.Wait()
}

func (m *Manager) connect(ctx context.Context) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = dialMaxElapsed
	var rwc io.ReadWriteCloser
	err := backoff.Retry(func() error {
		var err error
		rwc, err = m.dial(ctx)
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to task source: %w", err)
	}

	s := newSession(NewConn(rwc))
	m.conn = s
	m.wg.Add(3)
	go m.serve(s)
	go m.write(s)
	go m.apply(s)
	m.log.Info("Connected to task source")
	return s, nil
}

func (m *Manager) drop(s *session) {
	m.mu.Lock()
	if m.conn == s {
		m.conn = nil
	}
	m.mu.Unlock()
	s.close()
}

// serve reads from the task source until the stream ends
func (m *Manager) serve(s *session) {
	defer m.wg.Done()
	ctx := context.Background()

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.log.Warn("Task source stream broken", "error", err)
			}
			m.drop(s)
			return
		}
		m.metrics.BridgeFrame(ctx, "in", msg.Type)

		switch msg.Type {
		case TypeRead:
			// one reply answers any number of queued reads
			select {
			case s.reads <- struct{}{}:
			default:
			}
		case TypeTasks:
			s.inbound.put(msg.Tasks)
		case TypeError:
			m.log.Warn("Task source reported an error", "error", msg.Error)
		default:
			m.log.Debug("Ignoring task source message", "type", msg.Type)
		}
	}
}

// write sends queued pushes and read replies
func (m *Manager) write(s *session) {
	defer m.wg.Done()
	ctx := context.Background()

	for {
		var msg Message
		select {
		case <-s.done:
			return
		case <-s.push.ready:
			tasks, ok := s.push.take()
			if !ok {
				continue
			}
			msg = Message{Type: TypeWrite, Tasks: tasks}
		case <-s.reads:
			tasks, err := m.handler.Tasks(ctx)
			msg = Message{Type: TypeTasks, Tasks: tasks}
			if err != nil {
				msg = Message{Type: TypeError, Error: err.Error()}
			}
		}

		if err := s.conn.Send(msg); err != nil {
			m.log.Warn("Failed to write to task source", "type", msg.Type, "error", err)
			m.drop(s)
			return
		}
		m.metrics.BridgeFrame(ctx, "out", msg.Type)
	}
}

// apply hands inbound task lists to the handler
func (m *Manager) apply(s *session) {
	defer m.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-s.done:
			return
		case <-s.inbound.ready:
			tasks, ok := s.inbound.take()
			if !ok {
				continue
			}
			if err := m.handler.ApplyExternalTasks(ctx, tasks); err != nil {
				m.log.Warn("Failed to apply tasks from task source", "error", err)
			}
		}
	}
}

// session is one connection and the goroutines serving it
type session struct {
	conn    *Conn
	push    *latest
	inbound *latest
	reads   chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSession(conn *Conn) *session {
	return &session{
		conn:    conn,
		push:    newLatest(),
		inbound: newLatest(),
		reads:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// latest holds the newest task list waiting to be handled. Whole lists
// supersede each other, so only the last one put matters.
type latest struct {
	mu    sync.Mutex
	tasks []model.Task
	set   bool
	ready chan struct{}
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{}, 1)}
}

func (l *latest) put(tasks []model.Task) {
	l.mu.Lock()
	l.tasks, l.set = tasks, true
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) take() ([]model.Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tasks, ok := l.tasks, l.set
	l.tasks, l.set = nil, false
	return tasks, ok
}

// CommandDialer starts command and talks to it over stdin and stdout. The
// task file path is passed in TASKGATE_TASK_FILE.
func CommandDialer(command []string, taskFile string) Dialer {
	if len(command) == 0 {
		return nil
	}
	return func(context.Context) (io.ReadWriteCloser, error) {
		cmd := exec.Command(command[0], command[1:]...)
		cmd.Env = append(os.Environ(), TaskFileEnv+"="+taskFile)
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			stdin.Close()
			return nil, fmt.Errorf("failed to start task source: %w", err)
		}
		return &process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	once   sync.Once
}

func (p *process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close closes stdin and gives the process a moment to exit before killing it
func (p *process) Close() error {
	p.once.Do(func() {
		p.stdin.Close()
		done := make(chan struct{})
		go func() {
			p.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			p.cmd.Process.Kill()
			<-done
		}
	})
	return nil
}
