// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

// Package ops exposes the operational HTTP API: command dispatch,
// command and module listings, and on-demand module reload. It is thin
// transport glue over the command and module packages and holds no
// dispatch logic of its own.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/streamward/streamward/internal/command"
	"github.com/streamward/streamward/internal/module"
	"github.com/streamward/streamward/pkg/modulesdk"
)

// Dispatcher routes one command request. Implemented by command.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req command.Request) (*command.Response, error)
}

// CommandIndex is the read side of the descriptor table.
type CommandIndex interface {
	Resolve(name string) (command.Descriptor, bool)
	Commands() []command.Descriptor
}

// ModuleAdmin is the lifecycle surface the API exposes.
type ModuleAdmin interface {
	Modules() []module.Status
	Reload(ctx context.Context, name string) error
	LastReport() module.Report
}

// Server is the operational HTTP API server.
type Server struct {
	addr       string
	dispatcher Dispatcher
	index      CommandIndex
	admin      ModuleAdmin

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates the operational API server. All collaborators are
// required.
func NewServer(addr string, dispatcher Dispatcher, index CommandIndex, admin ModuleAdmin) *Server {
	if dispatcher == nil || index == nil || admin == nil {
		panic("ops: all collaborators must be non-nil")
	}
	return &Server{
		addr:       addr,
		dispatcher: dispatcher,
		index:      index,
		admin:      admin,
	}
}

// Handler returns the API routes. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/dispatch", s.handleDispatch)
	mux.HandleFunc("GET /v1/commands", s.handleListCommands)
	mux.HandleFunc("GET /v1/commands/{name}", s.handleGetCommand)
	mux.HandleFunc("GET /v1/modules", s.handleListModules)
	mux.HandleFunc("POST /v1/modules/{name}/reload", s.handleReload)
	mux.HandleFunc("GET /v1/report", s.handleReport)
	return mux
}

// Start begins serving the API. Same contract as the observability
// server: the returned channel reports post-start serve failures and is
// closed on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("ops server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("ops server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("ops server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_ops_server").Wrap(err)
		}
	}
	slog.Info("ops server stopped")
	return nil
}

// Addr returns the listen address, or empty when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// dispatchRequest is the POST /v1/dispatch body.
type dispatchRequest struct {
	Command   string `json:"command"`
	RawArgs   string `json:"raw_args"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text,omitempty"`
}

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// commandView is the listing shape for one command.
type commandView struct {
	Name       string             `json:"name"`
	Aliases    []string           `json:"aliases,omitempty"`
	Module     string             `json:"module"`
	Args       []modulesdk.ArgSpec `json:"args,omitempty"`
	Permission modulesdk.Level    `json:"permission"`
	Help       string             `json:"help,omitempty"`
	Usage      string             `json:"usage"`
}

func viewOf(d command.Descriptor) commandView {
	return commandView{
		Name:       d.Name,
		Aliases:    d.Aliases,
		Module:     d.Module,
		Args:       d.Args,
		Permission: d.Permission,
		Help:       d.Help,
		Usage:      command.Usage(d),
	}
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body")
		return
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), command.Request{
		Command:   body.Command,
		RawArgs:   body.RawArgs,
		MessageID: body.MessageID,
		UserID:    body.UserID,
		Text:      body.Text,
	})
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	descs := s.index.Commands()
	views := make([]commandView, 0, len(descs))
	for _, d := range descs {
		views = append(views, viewOf(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": views})
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	desc, ok := s.index.Resolve(name)
	if !ok {
		writeError(w, http.StatusNotFound, command.CodeCommandNotFound, "command not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(desc))
}

func (s *Server) handleListModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"modules": s.admin.Modules()})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.admin.Reload(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"module": name, "reloaded": true})
	case errors.Is(err, module.ErrUnknownModule):
		writeError(w, http.StatusNotFound, "UNKNOWN_MODULE", err.Error())
	case errors.Is(err, module.ErrReloadInProgress):
		writeError(w, http.StatusConflict, "RELOAD_IN_PROGRESS", err.Error())
	default:
		// Failed reload: the module is now in the failed state and the
		// error explains the load failure.
		writeError(w, http.StatusUnprocessableEntity, module.CodeLoadError, err.Error())
	}
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.LastReport())
}

// writeDispatchError maps a dispatch error's stable code onto an HTTP
// status. Unknown codes are internal failures.
func writeDispatchError(w http.ResponseWriter, err error) {
	code := command.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case command.CodeCommandNotFound:
		status = http.StatusNotFound
	case command.CodeArgumentError, command.CodeEmptyCommand:
		status = http.StatusBadRequest
	case command.CodePermissionDenied:
		status = http.StatusForbidden
	case command.CodeModuleUnavailable:
		status = http.StatusServiceUnavailable
	case command.CodeTimeout:
		status = http.StatusGatewayTimeout
	case command.CodeModuleFault:
		status = http.StatusBadGateway
	case command.CodeCancelled:
		status = http.StatusRequestTimeout
	}
	if code == "" {
		code = "INTERNAL"
	}
	writeError(w, status, code, command.UserMessage(err))
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response body", "error", err)
	}
}
