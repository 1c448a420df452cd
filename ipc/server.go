package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	cerrors "netguardd/errors"
	"netguardd/logging"
	"netguardd/utils"
)

// Config tunes the server's framing and rate-limit behavior. The mutator
// lock itself (I4) lives in the lifecycle orchestrator, not here: Handlers
// implementations acquire it around their own serialized operations, so a
// watch-triggered apply and an IPC-triggered apply contend for exactly the
// same lock without the dispatcher needing to know which request types are
// "serialized" versus "concurrent" at the framing layer.
type Config struct {
	SocketPath            string
	MaxFrameBytes         int
	RateLimitBucketSize   int
	RateLimitRefillPerSec float64
}

// Server is the control-plane listener: it admits connections concurrently,
// each on its own goroutine, verifies caller identity on accept, and
// dispatches length-framed JSON requests to Handlers.
type Server struct {
	cfg      Config
	handlers Handlers

	ln    *net.UnixListener
	limit *rateLimiter

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewServer constructs a Server bound to Handlers. Listen must be called
// to start accepting connections.
func NewServer(cfg Config, handlers Handlers) *Server {
	return &Server{
		cfg:      cfg,
		handlers: handlers,
		limit:    newRateLimiter(cfg.RateLimitBucketSize, cfg.RateLimitRefillPerSec),
		closeCh:  make(chan struct{}),
	}
}

// Listen binds the control socket. A stale path left over from a previous
// run is validated (refusing to clobber a non-socket file at that path) via
// utils.ValidateSocketPath, then removed before bind, mirroring the
// teacher's utils.NewFifo's remove-before-create idempotence.
func (s *Server) Listen() error {
	if err := utils.ValidateSocketPath(s.cfg.SocketPath); err != nil {
		return cerrors.Wrap(err, cerrors.InvalidArgument, "ipc: socket path")
	}
	_ = os.Remove(s.cfg.SocketPath)

	addr, err := net.ResolveUnixAddr("unix", s.cfg.SocketPath)
	if err != nil {
		return cerrors.Wrap(err, cerrors.IoError, "ipc: resolve socket addr")
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return cerrors.Wrap(err, cerrors.IoError, "ipc: listen")
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o660); err != nil {
		ln.Close()
		return cerrors.Wrap(err, cerrors.IoError, "ipc: chmod socket")
	}
	s.ln = ln
	return nil
}

// Serve accepts connections until Close is called. Each connection is
// handled on its own goroutine; Serve itself blocks until the listener
// closes.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			select {
			case <-s.closeCh:
				return nil
			default:
				return cerrors.Wrap(err, cerrors.IoError, "ipc: accept")
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections, then waits (bounded) for
// in-flight requests to drain before returning, per spec.md §4.9's
// shutdown sequencing.
func (s *Server) Close(drainTimeout time.Duration) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.closeMu.Unlock()

	if s.ln != nil {
		s.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		logging.Warn("ipc: shutdown drain timed out, closing anyway")
	}

	_ = os.Remove(s.cfg.SocketPath)
	return nil
}

func (s *Server) handleConn(conn *net.UnixConn) {
	defer conn.Close()

	uid, err := authorizeCaller(conn)
	if err != nil {
		s.writeErr(conn, err)
		return
	}

	for {
		payload, err := readFrame(conn, s.cfg.MaxFrameBytes)
		if err != nil {
			if cerrors.IsKind(err, cerrors.InvalidArgument) {
				s.writeErr(conn, err)
			}
			return // EOF or any other framing error: connection done
		}

		if !s.limit.Allow(uid) {
			s.writeErr(conn, cerrors.ErrRateLimited)
			continue
		}

		resp := s.dispatch(context.Background(), payload)
		out, merr := json.Marshal(resp)
		if merr != nil {
			return
		}
		if err := writeFrame(conn, out); err != nil {
			return
		}
	}
}

func (s *Server) writeErr(conn *net.UnixConn, err error) {
	kind, ok := cerrors.GetKind(err)
	code := cerrors.KernelError.String()
	if ok {
		code = kind.String()
	}
	r := Reply{OK: false, ErrorCode: code, ErrorMessage: err.Error()}
	out, merr := json.Marshal(r)
	if merr != nil {
		return
	}
	_ = writeFrame(conn, out)
}
