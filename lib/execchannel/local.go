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

package execchannel

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/defaults"
)

// LocalConfig configures LocalSudoChannel.
type LocalConfig struct {
	// SudoSecret is fed to `sudo -S` over stdin so elevation is
	// non-interactive.
	SudoSecret string
	// Log is used for logging.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults fills in defaults.
func (c *LocalConfig) CheckAndSetDefaults() error {
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, "execchannel/local")
	}
	return nil
}

// LocalSudoChannel runs commands locally with elevated privilege using
// `sudo -S`, supplying the secret over stdin rather than interactively.
type LocalSudoChannel struct {
	cfg LocalConfig
}

// NewLocalSudoChannel constructs a LocalSudoChannel.
func NewLocalSudoChannel(cfg LocalConfig) (*LocalSudoChannel, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &LocalSudoChannel{cfg: cfg}, nil
}

// ExecuteLocalPrivileged runs command via `sudo -S sh -c <command>`.
func (l *LocalSudoChannel) ExecuteLocalPrivileged(ctx context.Context, command string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.ExecLocalOpTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sudo", "-S", "sh", "-c", command)
	cmd.Stdin = strings.NewReader(l.cfg.SudoSecret + "\n")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() == context.DeadlineExceeded {
		return result, trace.Wrap(ErrTimeout)
	}
	if err == nil {
		result.ExitStatus = 0
		return result, nil
	}
	var exitErr *exec.ExitError
	if ok := errorsAsExitError(err, &exitErr); ok {
		result.ExitStatus = exitErr.ExitCode()
		l.cfg.Log.WithError(err).Debugf("local privileged command exited non-zero: %v", command)
		return result, nil
	}
	return result, trace.Wrap(ErrConnection, "running local privileged command: %v", err)
}

// ExecuteRemote is not supported by the local channel.
func (l *LocalSudoChannel) ExecuteRemote(ctx context.Context, command string) (*Result, error) {
	return nil, trace.NotImplemented("local exec channel does not support remote execution")
}

// Upload is not supported by the local channel; uploads only make sense
// against a remote proxy host.
func (l *LocalSudoChannel) Upload(ctx context.Context, localPath, remotePath string) error {
	return trace.NotImplemented("local exec channel does not support upload")
}

func errorsAsExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}
