// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamward/streamward/internal/chat"
	"github.com/streamward/streamward/pkg/modulesdk"
)

var tracer = otel.Tracer("streamward/command")

// DefaultDispatchTimeout bounds how long a dispatch waits for a module's
// entry point before reporting Timeout to the caller.
const DefaultDispatchTimeout = 10 * time.Second

// Construction errors.
var (
	ErrNilTable   = errors.New("table cannot be nil")
	ErrNilRuntime = errors.New("runtime cannot be nil")
)

// Dispatcher resolves inbound command requests against the descriptor
// table, validates them, and invokes the owning module's entry point.
type Dispatcher struct {
	table     *Table
	runtime   ModuleRuntime
	source    chat.MessageSource // optional, can be nil
	directory chat.UserDirectory // optional, can be nil
	timeout   time.Duration
	now       func() time.Time
}

// DispatcherOption configures a Dispatcher during construction.
type DispatcherOption func(*Dispatcher)

// WithMessageSource configures message-content enrichment for requests
// that reference a message by ID without embedding its text.
func WithMessageSource(s chat.MessageSource) DispatcherOption {
	return func(d *Dispatcher) {
		d.source = s
	}
}

// WithUserDirectory configures user-metadata resolution. Without it every
// issuer is treated as an anonymous everyone-level user.
func WithUserDirectory(dir chat.UserDirectory) DispatcherOption {
	return func(d *Dispatcher) {
		d.directory = dir
	}
}

// WithTimeout sets the per-invocation deadline.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a dispatcher over the given table and module
// runtime. Returns an error if table or runtime is nil.
func NewDispatcher(table *Table, runtime ModuleRuntime, opts ...DispatcherOption) (*Dispatcher, error) {
	if table == nil {
		return nil, ErrNilTable
	}
	if runtime == nil {
		return nil, ErrNilRuntime
	}
	d := &Dispatcher{
		table:   table,
		runtime: runtime,
		timeout: DefaultDispatchTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch executes one inbound command request end to end: resolve,
// enrich, validate arguments, check permission, invoke, translate.
// Argument and permission failures are reported before any foreign code
// runs.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (resp *Response, err error) {
	name := Normalize(req.Command)
	if name == "" {
		return nil, ErrEmptyCommand()
	}

	invocationID := ulid.Make()
	started := d.now()

	ctx, span := tracer.Start(ctx, "command.dispatch",
		trace.WithAttributes(
			attribute.String("command.name", name),
			attribute.String("invocation.id", invocationID.String()),
		),
	)

	module := ""
	defer func() {
		status := StatusSuccess
		if err != nil {
			status = statusForError(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if resp != nil && !resp.OK() {
			status = StatusModuleError
		}
		Dispatches.WithLabelValues(name, module, status).Inc()
		DispatchDuration.WithLabelValues(name, module).Observe(d.now().Sub(started).Seconds())
		span.SetAttributes(attribute.String("dispatch.status", status))
		span.End()
	}()

	desc, ok := d.table.Resolve(name)
	if !ok {
		err = ErrCommandNotFound(name)
		return nil, err
	}
	module = desc.Module
	span.SetAttributes(attribute.String("module.name", desc.Module))

	ictx, err := d.buildContext(ctx, invocationID, desc, req)
	if err != nil {
		return nil, err
	}

	if !ictx.User.Level.AtLeast(desc.Permission) {
		err = ErrPermissionDenied(desc.Name, string(desc.Permission), string(ictx.User.Level))
		return nil, err
	}

	inv, err := d.runtime.Acquire(desc.Module)
	if err != nil {
		if errors.Is(err, ErrNotActive) {
			err = ErrModuleUnavailable(desc.Name, desc.Module)
			return nil, err
		}
		return nil, err
	}

	resp, err = d.invoke(ctx, inv, desc, ictx)
	return resp, err
}

// buildContext constructs the immutable invocation context: fetches the
// referenced message when text is absent, resolves the issuing user, and
// validates arguments against the descriptor's schema.
func (d *Dispatcher) buildContext(ctx context.Context, id ulid.ULID, desc Descriptor, req Request) (*InvocationContext, error) {
	var message *chat.Message
	if req.Text != "" || req.MessageID == "" || d.source == nil {
		message = &chat.Message{ID: req.MessageID, Text: req.Text}
	} else {
		fetched, err := d.source.FetchMessage(ctx, req.MessageID)
		if err != nil {
			// Enrichment is best-effort; dispatch proceeds on the raw request.
			slog.WarnContext(ctx, "failed to fetch message for enrichment",
				"message_id", req.MessageID,
				"error", err)
			message = &chat.Message{ID: req.MessageID}
		} else {
			message = fetched
		}
	}

	user := chat.UserProfile{ID: req.UserID, Level: modulesdk.LevelEveryone}
	if d.directory != nil && req.UserID != "" {
		profile, err := d.directory.LookupUser(ctx, req.UserID)
		if err != nil {
			// Fail closed: an unresolvable user keeps the everyone level.
			slog.WarnContext(ctx, "failed to resolve user, treating as everyone",
				"user_id", req.UserID,
				"error", err)
		} else {
			user = *profile
		}
	}

	args, err := ParseArgs(desc.Name, req.RawArgs, desc.Args)
	if err != nil {
		return nil, err
	}

	return &InvocationContext{
		ID:        id,
		Command:   desc.Name,
		InvokedAs: Normalize(req.Command),
		RawArgs:   req.RawArgs,
		Args:      args,
		Message:   message,
		User:      user,
		Timestamp: d.now(),
	}, nil
}

// invoke calls the module's entry point with a deadline. The foreign call
// is never forcibly interrupted: on timeout the caller gets Timeout while
// the invocation slot stays held until the call actually returns, so a
// slow module delays its own drain instead of being unloaded mid-call.
func (d *Dispatcher) invoke(ctx context.Context, inv Invocation, desc Descriptor, ictx *InvocationContext) (*Response, error) {
	sdkReq := modulesdk.InvokeRequest{
		Command:   desc.Name,
		InvokedAs: ictx.InvokedAs,
		Args:      ictx.Args,
		RawArgs:   ictx.RawArgs,
		MessageID: ictx.Message.ID,
		ChannelID: ictx.Message.ChannelID,
		Text:      ictx.Message.Text,
		User: modulesdk.User{
			ID:          ictx.User.ID,
			DisplayName: ictx.User.DisplayName,
			Level:       ictx.User.Level,
			Subscriber:  ictx.User.Subscriber,
		},
		Timestamp:    ictx.Timestamp,
		InvocationID: ictx.ID.String(),
	}

	type outcome struct {
		result modulesdk.InvokeResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer inv.Release()
		defer func() {
			if r := recover(); r != nil {
				inv.RecordFault()
				done <- outcome{err: fmt.Errorf("panic in module call: %v", r)}
			}
		}()
		result, err := inv.Invoke(sdkReq)
		if err != nil {
			inv.RecordFault()
		}
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			slog.ErrorContext(ctx, "module fault during dispatch",
				"command", desc.Name,
				"module", desc.Module,
				"invocation_id", ictx.ID.String(),
				"error", out.err)
			return nil, ErrModuleFault(desc.Name, desc.Module, out.err)
		}
		return &Response{
			InvocationID: ictx.ID.String(),
			Command:      desc.Name,
			Module:       desc.Module,
			Reply:        out.result.Reply,
			Data:         out.result.Data,
			ErrorCode:    out.result.ErrorCode,
			ErrorMessage: out.result.ErrorMessage,
		}, nil
	case <-timer.C:
		return nil, ErrTimeout(desc.Name, desc.Module, d.timeout.Milliseconds())
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ErrCancelled(desc.Name, desc.Module)
		}
		return nil, ErrTimeout(desc.Name, desc.Module, d.timeout.Milliseconds())
	}
}
