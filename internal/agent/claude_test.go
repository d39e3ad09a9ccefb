package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestClaudeAgent_Name(t *testing.T) {
	a := NewClaudeAgent()
	if a.Name() != "claude" {
		t.Errorf("Name() = %q, want %q", a.Name(), "claude")
	}
}

func TestClaudeAgent_Available(t *testing.T) {
	a := &ClaudeAgent{Command: "definitely-not-a-real-binary-xyz"}
	if a.Available() {
		t.Error("Available() = true for nonexistent binary")
	}
}

func TestClaudeAgent_Run_CapturesOutput(t *testing.T) {
	// echo prints its args, which is enough to verify capture.
	a := &ClaudeAgent{Command: "echo"}

	res, err := a.Run(context.Background(), "hello world", RunOpts{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(res.Output, "hello world") {
		t.Errorf("Output = %q, missing prompt echo", res.Output)
	}
	if res.Duration <= 0 {
		t.Error("Duration not recorded")
	}
}

func TestClaudeAgent_Run_Streaming(t *testing.T) {
	a := &ClaudeAgent{Command: "echo"}

	stream := make(chan string, 16)
	res, err := a.Run(context.Background(), "streamed output", RunOpts{Stream: stream})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	close(stream)

	var streamed strings.Builder
	for chunk := range stream {
		streamed.WriteString(chunk)
	}
	if !strings.Contains(streamed.String(), "streamed output") {
		t.Errorf("streamed = %q, missing output", streamed.String())
	}
	if !strings.Contains(res.Output, "streamed output") {
		t.Errorf("Output = %q, missing output", res.Output)
	}
}

func TestClaudeAgent_Run_NonZeroExit(t *testing.T) {
	// false exits 1 regardless of args: a transient agent failure.
	a := &ClaudeAgent{Command: "false"}

	_, err := a.Run(context.Background(), "anything", RunOpts{})
	if err == nil {
		t.Fatal("Run() should fail on non-zero exit")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("non-zero exit must not be classified as timeout")
	}
}

func TestClaudeAgent_Run_Timeout(t *testing.T) {
	// A stand-in agent that blocks past the timeout.
	script := filepath.Join(t.TempDir(), "slow-agent")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0755); err != nil {
		t.Fatal(err)
	}
	a := &ClaudeAgent{Command: script}

	res, err := a.Run(context.Background(), "anything", RunOpts{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	if res == nil {
		t.Fatal("Run() should return partial result on timeout")
	}
}
