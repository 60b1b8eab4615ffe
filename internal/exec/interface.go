// Package exec provides an interface for command execution.
package exec

import "context"

// Result holds the outcome of a captured command execution.
type Result struct {
	// Stdout is the captured standard output.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
	// ExitCode is the process exit code. 124 when killed by deadline,
	// matching the exit code convention of coreutils timeout.
	ExitCode int
	// TimedOut is true if the process was killed because the context
	// deadline expired.
	TimedOut bool
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// Capture executes a command and returns stdout, stderr, and the exit
	// code separately. A context deadline forcibly terminates the process;
	// that is reported through Result.TimedOut rather than an error.
	// The returned error is non-nil only when the process could not be
	// started at all (for example a missing executable).
	Capture(ctx context.Context, workDir string, name string, args ...string) (*Result, error)

	// LookPath reports whether the named executable can be found in PATH.
	LookPath(name string) bool
}
