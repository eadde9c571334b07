/*
Copyright 2024 Raywonder, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package execchannel runs privileged commands either locally (through a
// non-interactive sudo elevation) or on a remote host over an SSH
// session, and uploads files to a remote host via SFTP. It is component
// A of the domain broker: the single point where the broker reaches
// outside the process.
//
// The command is always passed as a single, already-composed string.
// This package does not attempt to shell-escape caller arguments — the
// caller must quote. Never interpolate untrusted input into the command
// string passed here.
package execchannel

import (
	"context"

	"github.com/gravitational/trace"
)

// Result is the outcome of a single command execution.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Channel executes pre-composed command strings and transfers files.
// Implementations must be safe for concurrent use by multiple callers;
// the channel itself imposes no ordering between unrelated commands.
type Channel interface {
	// ExecuteLocalPrivileged runs command with elevated privilege on the
	// local host.
	ExecuteLocalPrivileged(ctx context.Context, command string) (*Result, error)
	// ExecuteRemote runs command on the configured remote host through an
	// interactive shell tunnel.
	ExecuteRemote(ctx context.Context, command string) (*Result, error)
	// Upload copies the local file at localPath to remotePath on the
	// remote host.
	Upload(ctx context.Context, localPath, remotePath string) error
}

// Failure kinds distinguishable on a returned error, per spec §4.A.
var (
	// ErrConnection marks a failure to connect to, or authenticate with,
	// the execution target (local elevation helper or remote shell).
	ErrConnection = trace.ConnectionProblem(nil, "failed to connect to execution target")
	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = trace.ConnectionProblem(nil, "execution timed out")
)

// IsConnectionError reports whether err is a connection-problem error.
// Both ErrConnection (connection or elevation failure) and ErrTimeout
// are of that kind, so it is true for timeouts as well; it does not
// tell the two apart. A non-zero exit status is reported in
// Result.ExitStatus with a nil error, never through this check.
func IsConnectionError(err error) bool {
	return trace.IsConnectionProblem(err)
}
