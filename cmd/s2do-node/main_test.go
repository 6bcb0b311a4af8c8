package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRun_Help verifies that the help command prints usage and exits 0.
func TestRun_Help(t *testing.T) {
	args := []string{"s2do-node", "--help"}
	var stdout, stderr bytes.Buffer

	exitCode := Run(args, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "Usage: s2do-node")
}

// TestRun_DefaultsToServer verifies that a bare invocation starts the node.
func TestRun_DefaultsToServer(t *testing.T) {
	var stdout, stderr bytes.Buffer

	// Overwrite runServer logic to avoid starting the actual server
	originalRunServer := startServer
	defer func() { startServer = originalRunServer }()
	called := false
	startServer = func() {
		called = true
	}

	exitCode := Run([]string{"s2do-node"}, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.True(t, called, "Expected runServer to be called")
}

// TestRun_FlagsDefaultToServer verifies that flag-style arguments fall
// through to the server, matching container entrypoints that pass flags.
func TestRun_FlagsDefaultToServer(t *testing.T) {
	var stdout, stderr bytes.Buffer

	originalRunServer := startServer
	defer func() { startServer = originalRunServer }()
	called := false
	startServer = func() {
		called = true
	}

	exitCode := Run([]string{"s2do-node", "-verbose"}, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.True(t, called)
}

// TestRun_UnknownCommand verifies that unknown commands print usage and
// exit non-zero without starting the server.
func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer

	originalRunServer := startServer
	defer func() { startServer = originalRunServer }()
	called := false
	startServer = func() {
		called = true
	}

	exitCode := Run([]string{"s2do-node", "frobnicate"}, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Unknown command")
	assert.False(t, called, "Unknown command must not start the server")
}

// TestRun_HealthFail verifies the health subcommand reports an unreachable
// node.
func TestRun_HealthFail(t *testing.T) {
	t.Setenv("PORT", "59999")

	var stdout, stderr bytes.Buffer
	exitCode := Run([]string{"s2do-node", "health"}, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "node unreachable")
}
