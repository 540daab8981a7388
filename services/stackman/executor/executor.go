// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor runs lifecycle actions against stacks.
//
// One mutating action per target at a time: a second request for a target
// with an execution in flight is rejected with ErrBusy, never queued. The
// busy slot is released on every termination path, including the external
// process vanishing, so a crashed command cannot wedge its target.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStacks/services/stackman/compose"
	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
	"github.com/AleutianAI/AleutianStacks/services/stackman/observability"
)

// ErrBusy is returned when an execution is already in flight for the
// requested target.
var ErrBusy = errors.New("action already in flight for target")

// OutputEvent is one element of an execution's output stream. Line events
// arrive in process-emission order; exactly one Terminal event follows the
// last line and carries the exit code.
type OutputEvent struct {
	Line     string
	Terminal bool
	ExitCode int
}

// Execution is one in-flight lifecycle action. Events is closed after the
// terminal event has been delivered.
type Execution struct {
	ID     string
	Target string
	Action compose.Action
	Events <-chan OutputEvent
}

// Executor dispatches lifecycle actions through a compose.Runner and
// enforces the one-in-flight-per-target invariant.
//
// Safe for concurrent use; the mutex guards only the slot table, never
// any I/O.
type Executor struct {
	runner   compose.Runner
	mu       sync.Mutex
	inflight map[string]string // target -> execution ID
}

// New returns an executor over the given runner.
func New(runner compose.Runner) *Executor {
	return &Executor{
		runner:   runner,
		inflight: make(map[string]string),
	}
}

// InFlight reports whether an execution is currently registered for the
// target.
func (e *Executor) InFlight(target string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[target]
	return ok
}

// Execute starts action against stack and returns the execution with its
// output stream attached.
//
// The stream is not buffered beyond a small window: the caller must drain
// Events for the external process's output to keep flowing. Cancelling
// ctx signals the external process; the terminal event still arrives and
// the busy slot is still freed.
func (e *Executor) Execute(ctx context.Context, stack datatypes.Stack, action compose.Action) (*Execution, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("invalid action %q", action)
	}
	target := stack.StatusKey()

	e.mu.Lock()
	if id, busy := e.inflight[target]; busy {
		e.mu.Unlock()
		if m := observability.DefaultMetrics; m != nil {
			m.CommandsTotal.WithLabelValues(string(action), "busy").Inc()
		}
		return nil, fmt.Errorf("target %s (execution %s): %w", target, id, ErrBusy)
	}
	id := uuid.New().String()
	e.inflight[target] = id
	e.mu.Unlock()

	proc, err := e.runner.Start(ctx, stack.Dir, action)
	if err != nil {
		e.release(target)
		if m := observability.DefaultMetrics; m != nil {
			m.CommandsTotal.WithLabelValues(string(action), "error").Inc()
		}
		return nil, err
	}

	events := make(chan OutputEvent, 16)
	exec := &Execution{ID: id, Target: target, Action: action, Events: events}
	slog.Info("lifecycle action started",
		"execution", id, "target", target, "action", action, "dir", stack.Dir)

	go e.pump(exec, proc, events, stack.Dir)
	return exec, nil
}

// pump forwards process output to the execution's stream, appends the
// terminal event, and frees the busy slot whatever happens.
func (e *Executor) pump(exec *Execution, proc *compose.Proc, events chan<- OutputEvent, dir string) {
	defer e.release(exec.Target)
	defer close(events)

	events <- OutputEvent{Line: fmt.Sprintf("Executing: %s in %s", strings.Join(proc.Args, " "), dir)}
	for line := range proc.Lines {
		events <- OutputEvent{Line: line}
	}

	code, err := proc.Wait()
	status := "success"
	switch {
	case err != nil:
		status = "error"
		events <- OutputEvent{Line: fmt.Sprintf("EXCEPTION: %v", err)}
		code = -1
	case code == 0:
		events <- OutputEvent{Line: "SUCCESS: Command completed successfully."}
	default:
		status = "error"
		events <- OutputEvent{Line: fmt.Sprintf("FAILURE: Command exited with code %d", code)}
	}
	events <- OutputEvent{Terminal: true, ExitCode: code}

	if m := observability.DefaultMetrics; m != nil {
		m.CommandsTotal.WithLabelValues(string(exec.Action), status).Inc()
	}
	slog.Info("lifecycle action finished",
		"execution", exec.ID, "target", exec.Target, "action", exec.Action, "exit_code", code)
}

// release frees the busy slot for a target.
func (e *Executor) release(target string) {
	e.mu.Lock()
	delete(e.inflight, target)
	e.mu.Unlock()
}
