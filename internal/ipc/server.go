package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"log/slog"

	"distill/internal/fault"
	"distill/internal/logging"
	"distill/internal/store"
	"distill/internal/task"
)

// Server exposes the task store via JSON-RPC over TCP.
type Server struct {
	store     *store.Store
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer configures the store RPC server on the given bind address. The
// listener is open when NewServer returns, so the bound address is final
// before any readiness signal is emitted.
func NewServer(ctx context.Context, bind string, st *store.Store, logger *slog.Logger) (*Server, error) {
	if st == nil {
		return nil, errors.New("ipc server requires store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bind, err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{store: st, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName("Store", svc); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		store:     st,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("store rpc listening", logging.String("addr", s.Addr()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "store_accept_failed"),
					logging.String(logging.FieldImpact, "store clients may fail to connect"))
				continue
			}
			s.track(conn)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server: the listener and every accepted connection are
// closed together, so an idle client cannot hold shutdown open. ServeCodec
// returns once its connection is closed.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
}

// track registers an accepted connection for shutdown. A connection accepted
// while shutdown is underway is closed immediately so ServeCodec cannot
// outlive Close.
func (s *Server) track(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	select {
	case <-s.ctx.Done():
		_ = conn.Close()
	default:
	}
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	_ = conn.Close()
}

// service holds the closed action registry. All handlers run under one mutex:
// the store has exactly one writer, and readers always observe a state no
// older than the last commit they could have raced with.
type service struct {
	store  *store.Store
	logger *slog.Logger
	ctx    context.Context

	mu sync.Mutex
}

// run serializes a handler and converts panics into coded internal failures so
// a broken handler fails its own request instead of taking the service down.
func (s *service) run(action string, fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fault.Wrapf(fault.ErrInternal, "%s: %v", action, r)
		}
		if err != nil {
			s.logger.Warn("store action failed",
				logging.String(logging.FieldAction, action),
				logging.String("code", fault.Code(err)),
				logging.Error(err))
		}
	}()
	s.logger.Debug("store action", logging.String(logging.FieldAction, action))
	return fn()
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	return s.run("ping", func() error {
		resp.DatabasePath = s.store.Path()
		return nil
	})
}

func (s *service) BeginStage1(req BeginStage1Request, resp *TaskResponse) error {
	return s.run("begin_stage1", func() error {
		t, err := s.store.CreateOrResetStage1(s.ctx, req.SourceRef, req.ModelName)
		if err != nil {
			return err
		}
		resp.Task = FromTask(t)
		return nil
	})
}

func (s *service) BeginStage2(req BeginStage2Request, resp *TaskResponse) error {
	return s.run("begin_stage2", func() error {
		t, err := s.store.BeginStage2(s.ctx, req.TaskID)
		if err != nil {
			return err
		}
		resp.Task = FromTask(t)
		return nil
	})
}

func (s *service) MarkProcessing(req StageRequest, resp *TaskResponse) error {
	return s.run("mark_processing", func() error {
		stage, ok := task.ParseStage(req.Stage)
		if !ok {
			return fault.Wrapf(fault.ErrInvalidParams, "unknown stage %q", req.Stage)
		}
		t, err := s.store.MarkProcessing(s.ctx, req.TaskID, stage)
		if err != nil {
			return err
		}
		resp.Task = FromTask(t)
		return nil
	})
}

func (s *service) CompleteStage(req CompleteStageRequest, resp *TaskResponse) error {
	return s.run("complete_stage", func() error {
		stage, ok := task.ParseStage(req.Stage)
		if !ok {
			return fault.Wrapf(fault.ErrInvalidParams, "unknown stage %q", req.Stage)
		}
		t, err := s.store.CompleteStage(s.ctx, req.TaskID, stage, req.OutputRef)
		if err != nil {
			return err
		}
		resp.Task = FromTask(t)
		return nil
	})
}

func (s *service) FailStage(req FailStageRequest, resp *TaskResponse) error {
	return s.run("fail_stage", func() error {
		stage, ok := task.ParseStage(req.Stage)
		if !ok {
			return fault.Wrapf(fault.ErrInvalidParams, "unknown stage %q", req.Stage)
		}
		t, err := s.store.FailStage(s.ctx, req.TaskID, stage, req.Message)
		if err != nil {
			return err
		}
		resp.Task = FromTask(t)
		return nil
	})
}

func (s *service) GetTask(req GetTaskRequest, resp *TaskResponse) error {
	return s.run("get_task", func() error {
		t, err := s.store.GetTask(s.ctx, req.TaskID)
		if err != nil {
			return err
		}
		resp.Task = FromTask(t)
		return nil
	})
}

func (s *service) ListTasks(_ ListTasksRequest, resp *ListTasksResponse) error {
	return s.run("list_tasks", func() error {
		tasks, err := s.store.ListTasks(s.ctx)
		if err != nil {
			return err
		}
		resp.Tasks = make([]TaskView, 0, len(tasks))
		for _, t := range tasks {
			resp.Tasks = append(resp.Tasks, FromTask(t))
		}
		return nil
	})
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	return s.run("stats", func() error {
		stats, err := s.store.Stats(s.ctx)
		if err != nil {
			return err
		}
		resp.Stats = stats
		return nil
	})
}

func (s *service) ResetStuck(req ResetStuckRequest, resp *ResetStuckResponse) error {
	return s.run("reset_stuck", func() error {
		if req.OlderThanMinutes <= 0 {
			return fault.Wrap(fault.ErrInvalidParams, "older_than_minutes must be positive")
		}
		cutoff := time.Now().Add(-time.Duration(req.OlderThanMinutes) * time.Minute)
		updated, err := s.store.ResetStuck(s.ctx, cutoff)
		if err != nil {
			return err
		}
		resp.Updated = updated
		return nil
	})
}
