// Package mcp imports tools from Model Context Protocol servers into the
// research tool registry.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
)

// ErrClosed is returned once a session has ended.
var ErrClosed = errors.New("mcp session closed")

const defaultMaxResultChars = 12000

// Server describes one remote toolbox. Endpoint selects the streamable HTTP
// transport; otherwise Command is launched and spoken to over stdio.
type Server struct {
	Name     string
	Endpoint string
	Command  string
	Args     []string
	Env      []string
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	httpClient     *http.Client
	keepAlive      time.Duration
	maxResultChars int
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient is used by the streamable transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithKeepAlive pings the server at the given interval.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) { o.keepAlive = d }
}

// WithMaxResultChars truncates tool output before it reaches the model.
func WithMaxResultChars(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxResultChars = n
		}
	}
}

// Session is a live connection to one MCP server. It implements tool.Provider.
type Session struct {
	prefix  string
	logger  *slog.Logger
	maxText int

	session *sdkmcp.ClientSession
	changed chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to srv using the transport its fields select.
func Dial(ctx context.Context, srv Server, opts ...Option) (*Session, error) {
	o := newOptions(opts)
	var transport sdkmcp.Transport
	switch {
	case strings.TrimSpace(srv.Endpoint) != "":
		t := &sdkmcp.StreamableClientTransport{Endpoint: srv.Endpoint}
		if o.httpClient != nil {
			t.HTTPClient = o.httpClient
		}
		transport = t
	case strings.TrimSpace(srv.Command) != "":
		cmd := exec.Command(srv.Command, srv.Args...)
		if len(srv.Env) > 0 {
			cmd.Env = append(os.Environ(), srv.Env...)
		}
		cmd.Stderr = stderrLogger{logger: o.logger.With("server", srv.Name)}
		transport = &sdkmcp.CommandTransport{Command: cmd}
	default:
		return nil, fmt.Errorf("mcp server %q needs an endpoint or a command", srv.Name)
	}
	return Connect(ctx, srv.Name, transport, opts...)
}

// Connect performs the MCP handshake over transport. Remote tools are
// registered as "<name>.<tool>" when name is non-empty.
func Connect(ctx context.Context, name string, transport sdkmcp.Transport, opts ...Option) (*Session, error) {
	o := newOptions(opts)
	s := &Session{
		logger:  o.logger,
		maxText: o.maxResultChars,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if name != "" {
		s.prefix = name + "."
		s.logger = s.logger.With("server", name)
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "paper-survey", Version: "1.0.0"}, &sdkmcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *sdkmcp.ToolListChangedRequest) {
			select {
			case s.changed <- struct{}{}:
			default:
			}
		},
		LoggingMessageHandler: func(_ context.Context, req *sdkmcp.LoggingMessageRequest) {
			if req != nil && req.Params != nil {
				s.logger.Debug("mcp server log", "level", req.Params.Level, "data", req.Params.Data)
			}
		},
		KeepAlive: o.keepAlive,
	})

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect %s: %w", name, err)
	}
	s.session = session
	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		s.logger.Info("mcp server connected", "remote", res.ServerInfo.Name, "version", res.ServerInfo.Version)
	}

	go s.wait()
	return s, nil
}

func newOptions(opts []Option) options {
	o := options{
		logger:         logging.WithComponent("mcp"),
		maxResultChars: defaultMaxResultChars,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ToolsChanged fires when the server announces a new tool list.
func (s *Session) ToolsChanged() <-chan struct{} { return s.changed }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.session != nil {
			s.closeErr = s.session.Close()
		}
		close(s.done)
	})
	return s.closeErr
}

func (s *Session) wait() {
	if err := s.session.Wait(); err != nil && !errors.Is(err, sdkmcp.ErrConnectionClosed) {
		s.logger.Warn("mcp session ended with error", "error", err)
	}
	_ = s.Close()
}

type stderrLogger struct {
	logger *slog.Logger
}

func (w stderrLogger) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Debug("mcp server stderr", "line", msg)
	}
	return len(p), nil
}
