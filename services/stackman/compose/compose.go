// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compose wraps the external lifecycle tool (docker compose).
//
// Everything the control plane knows about container state comes from this
// tool: the status poller asks it which services are up, the executor runs
// up/down through it, and the container list comes from the docker CLI.
// The Runner interface exists so the poller and executor can be tested
// against a fake without a Docker daemon.
package compose

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
)

// Action is a lifecycle action against one stack.
type Action string

const (
	ActionUp   Action = "up"
	ActionDown Action = "down"
)

// Valid reports whether a is one of the accepted lifecycle actions.
func (a Action) Valid() bool {
	return a == ActionUp || a == ActionDown
}

// terminationGrace is how long a cancelled command gets between SIGTERM
// and the process group being killed outright.
const terminationGrace = 10 * time.Second

// Proc is one in-flight lifecycle-tool invocation. Lines carries combined
// stdout+stderr output in emission order and is closed when the output
// stream ends; Wait must then be called exactly once to reap the process
// and obtain its exit code.
type Proc struct {
	// Lines streams output line-by-line as the process produces it.
	Lines <-chan string

	// Args is the full command line, for operator-facing echo output.
	Args []string

	wait func() (int, error)
}

// NewProc assembles a Proc from its parts. Production code gets Procs
// from CLI.Start; this exists so Runner fakes in tests can build one.
func NewProc(lines <-chan string, args []string, wait func() (int, error)) *Proc {
	return &Proc{Lines: lines, Args: args, wait: wait}
}

// Wait blocks until the process exits and returns its exit code. A nonzero
// exit is reported through the code, not the error; the error is reserved
// for failures to run the process at all.
func (p *Proc) Wait() (int, error) {
	return p.wait()
}

// Runner invokes the external lifecycle tool.
//
// Implementations must be safe for concurrent use: the poller, executor,
// and websocket handlers all share one Runner.
type Runner interface {
	// Running reports whether at least one service of the stack rooted at
	// dir is currently up.
	Running(ctx context.Context, dir string) (bool, error)

	// Containers lists currently running containers host-wide.
	Containers(ctx context.Context) ([]datatypes.ContainerInfo, error)

	// Start launches the lifecycle action in dir and returns the running
	// process with its output stream attached.
	Start(ctx context.Context, dir string, action Action) (*Proc, error)
}

// CLI is the production Runner, shelling out to the docker binary.
type CLI struct {
	// Binary is the docker executable name or path. Defaults to "docker".
	Binary string
}

// NewCLI returns a Runner using the docker binary from PATH.
func NewCLI() *CLI {
	return &CLI{Binary: "docker"}
}

var _ Runner = (*CLI)(nil)

// Running runs `docker compose ps --services --filter status=running` in
// dir. Non-empty output on a clean exit means the stack is up. A missing
// directory is reported as not running, matching what the status poller
// needs for stacks whose directory vanished between scans.
func (c *CLI) Running(ctx context.Context, dir string) (bool, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return false, nil
	}

	cmd := exec.CommandContext(ctx, c.Binary, "compose", "ps", "--services", "--filter", "status=running")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("compose ps in %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// Containers runs `docker ps --format '{{json .}}'` and decodes one
// container per output line.
func (c *CLI) Containers(ctx context.Context) ([]datatypes.ContainerInfo, error) {
	cmd := exec.CommandContext(ctx, c.Binary, "ps", "--format", "{{json .}}")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("docker ps: %w", err)
	}

	// docker's JSON lines use these field names.
	type psLine struct {
		ID         string `json:"ID"`
		Names      string `json:"Names"`
		Image      string `json:"Image"`
		Status     string `json:"Status"`
		RunningFor string `json:"RunningFor"`
	}

	var containers []datatypes.ContainerInfo
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p psLine
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			continue
		}
		containers = append(containers, datatypes.ContainerInfo{
			ID:     p.ID,
			Name:   p.Names,
			Image:  p.Image,
			Status: p.Status,
			Uptime: p.RunningFor,
		})
	}
	return containers, nil
}

// Start launches `docker compose up -d` or `docker compose down` in dir.
// stdout and stderr are merged into one ordered stream. On context
// cancellation the process receives SIGTERM and, after terminationGrace,
// is killed; Wait still returns in either case so the caller's busy slot
// can always be released.
func (c *CLI) Start(ctx context.Context, dir string, action Action) (*Proc, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("invalid action %q", action)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("directory not found: %s", dir)
	}

	args := []string{"compose", "up", "-d"}
	if action == ActionDown {
		args = []string{"compose", "down"}
	}

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Dir = dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = terminationGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s %s: %w", c.Binary, strings.Join(args, " "), err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	return &Proc{
		Lines: lines,
		Args:  append([]string{c.Binary}, args...),
		wait: func() (int, error) {
			err := cmd.Wait()
			if err == nil {
				return 0, nil
			}
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode(), nil
			}
			return -1, fmt.Errorf("waiting for %s: %w", c.Binary, err)
		},
	}, nil
}
