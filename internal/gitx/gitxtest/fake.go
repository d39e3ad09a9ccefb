// Package gitxtest provides a scripted git runner for tests.
package gitxtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call records one invocation of the fake runner.
type Call struct {
	Dir  string
	Args []string
}

// FakeRunner returns canned responses keyed by the joined argument
// string. Unscripted commands succeed with empty output so tests only
// script what they assert on.
type FakeRunner struct {
	mu sync.Mutex

	// Outputs maps a joined args string (e.g. "rev-parse HEAD") to the
	// stdout the fake should return.
	Outputs map[string]string

	// Errors maps a joined args string to the error to return.
	Errors map[string]error

	// Calls records every invocation in order.
	Calls []Call
}

// New creates an empty fake runner.
func New() *FakeRunner {
	return &FakeRunner{
		Outputs: map[string]string{},
		Errors:  map[string]error{},
	}
}

// Script sets the stdout for the given command.
func (f *FakeRunner) Script(args, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Outputs[args] = output
}

// Fail makes the given command return an error.
func (f *FakeRunner) Fail(args string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[args] = err
}

// Run implements gitx.Runner.
func (f *FakeRunner) Run(_ context.Context, dir string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.Join(args, " ")
	f.Calls = append(f.Calls, Call{Dir: dir, Args: args})

	if err, ok := f.Errors[key]; ok {
		return "", fmt.Errorf("git %s: %w", key, err)
	}
	return f.Outputs[key], nil
}

// CalledWith reports whether any recorded call matches the joined args.
func (f *FakeRunner) CalledWith(args string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.Join(c.Args, " ") == args {
			return true
		}
	}
	return false
}
