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

// Package proxyconfig owns the aggregate reverse-proxy configuration
// file for each location (local, remote) and composes, splices, tests,
// and reloads the nginx server-blocks that expose provisioned domains
// (component C).
package proxyconfig

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/execchannel"
)

// Location is where a domain's upstream lives relative to this process.
type Location string

const (
	LocationLocal  Location = "local"
	LocationRemote Location = "remote"
)

// Domain is the subset of a domain record the writer needs to compose
// and locate a server-block.
type Domain struct {
	DomainID       string
	FullName       string
	TargetHost     string
	TargetPort     int
	TLS            bool
	Location       Location
	RequesterLANIP string
}

// Paths locates the aggregate config file for each location.
type Paths struct {
	Local  string
	Remote string
}

// Config configures a Writer.
type Config struct {
	Paths         Paths
	ReloadCommand string
	TestCommand   string
	Local         execchannel.Channel
	Remote        execchannel.Channel
	Log           logrus.FieldLogger
}

// CheckAndSetDefaults validates cfg and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Paths.Local == "" && c.Paths.Remote == "" {
		return trace.BadParameter("at least one of local/remote aggregate config path must be set")
	}
	if c.ReloadCommand == "" {
		c.ReloadCommand = "nginx -s reload"
	}
	if c.TestCommand == "" {
		c.TestCommand = "nginx -t"
	}
	if c.Local == nil {
		return trace.BadParameter("missing local exec channel")
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, "proxyconfig")
	}
	return nil
}

// Writer composes, splices, tests, and reloads the aggregate nginx
// config files.
type Writer struct {
	cfg Config
}

// New constructs a Writer.
func New(cfg Config) (*Writer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Writer{cfg: cfg}, nil
}

func (w *Writer) pathFor(loc Location) (string, error) {
	switch loc {
	case LocationLocal:
		if w.cfg.Paths.Local == "" {
			return "", trace.BadParameter("no local aggregate config path configured")
		}
		return w.cfg.Paths.Local, nil
	case LocationRemote:
		if w.cfg.Paths.Remote == "" {
			return "", trace.BadParameter("no remote aggregate config path configured")
		}
		return w.cfg.Paths.Remote, nil
	default:
		return "", trace.BadParameter("unknown location %q", loc)
	}
}

func (w *Writer) channelFor(loc Location) (execchannel.Channel, error) {
	if loc == LocationRemote && w.cfg.Remote != nil {
		return w.cfg.Remote, nil
	}
	return w.cfg.Local, nil
}

func (w *Writer) execFor(ctx context.Context, loc Location, command string) (*execchannel.Result, error) {
	ch, err := w.channelFor(loc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if loc == LocationRemote && w.cfg.Remote != nil {
		return ch.ExecuteRemote(ctx, command)
	}
	return ch.ExecuteLocalPrivileged(ctx, command)
}

// Add composes d's server-block, appends it to the aggregate config for
// d.Location, tests, and reloads. On test failure the aggregate is
// restored to its pre-mutation contents and the test error is returned.
func (w *Writer) Add(ctx context.Context, d Domain) error {
	block, err := renderBlock(d)
	if err != nil {
		return trace.Wrap(err)
	}
	return w.mutate(ctx, d.Location, func(aggregate string) (string, error) {
		return appendBlock(aggregate, block), nil
	})
}

// Remove splices out d's server-block, tests, and reloads. If the block
// is not present the operation is a no-op success, per spec §4.C.
func (w *Writer) Remove(ctx context.Context, d Domain) error {
	found := false
	err := w.mutate(ctx, d.Location, func(aggregate string) (string, error) {
		spliced, ok := removeBlock(aggregate, d.DomainID)
		found = ok
		return spliced, nil
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if !found {
		w.cfg.Log.Debugf("remove: no server-block for domain %v, treating as success", d.DomainID)
	}
	return nil
}

// Has reports whether the aggregate config for loc currently contains a
// server-block for domainID, matched by the sentinel line's domain-ID
// marker. The existence checker uses HasServerName instead.
func (w *Writer) Has(loc Location, domainID string) (bool, error) {
	path, err := w.pathFor(loc)
	if err != nil {
		return false, trace.Wrap(err)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, trace.Wrap(err)
	}
	return hasSentinel(string(data), domainID), nil
}

// HasServerName reports whether the aggregate config for loc currently
// contains a `server_name fullName;` directive. Used by the existence
// checker (component D), which only ever has a full name to probe,
// unlike Has which locates a block by its domain ID.
func (w *Writer) HasServerName(loc Location, fullName string) (bool, error) {
	path, err := w.pathFor(loc)
	if err != nil {
		return false, trace.Wrap(err)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, trace.Wrap(err)
	}
	return hasServerName(string(data), fullName), nil
}

// mutate reads the aggregate for loc, applies fn, stages the result,
// atomically replaces the aggregate, tests it, and reloads on success.
// A test failure restores the pre-mutation contents.
func (w *Writer) mutate(ctx context.Context, loc Location, fn func(aggregate string) (string, error)) error {
	path, err := w.pathFor(loc)
	if err != nil {
		return trace.Wrap(err)
	}

	before, readErr := os.ReadFile(path)
	if readErr != nil && !os.IsNotExist(readErr) {
		return trace.Wrap(readErr)
	}
	previous := string(before)

	next, err := fn(previous)
	if err != nil {
		return trace.Wrap(err)
	}

	if err := w.replace(ctx, loc, path, next); err != nil {
		return trace.Wrap(err)
	}

	result, err := w.execFor(ctx, loc, w.cfg.TestCommand)
	if err == nil && result.ExitStatus == 0 {
		_, reloadErr := w.execFor(ctx, loc, w.cfg.ReloadCommand)
		if reloadErr != nil {
			return trace.Wrap(reloadErr, "reloading proxy after config test passed")
		}
		return nil
	}

	// Test failed: roll back.
	if rollbackErr := w.replace(ctx, loc, path, previous); rollbackErr != nil {
		w.cfg.Log.WithError(rollbackErr).Error("failed to roll back aggregate config after test failure")
	}
	if err != nil {
		return trace.Wrap(err, "testing proxy config")
	}
	return trace.BadParameter("proxy config test failed: %s", result.Stderr)
}

// replace stages content to a temp file then atomically replaces path,
// via the exec channel for the privileged case (the aggregate files
// typically live under a root-owned nginx config directory).
func (w *Writer) replace(ctx context.Context, loc Location, path, content string) error {
	tmp, err := os.CreateTemp("", "openlink-proxyconfig-*")
	if err != nil {
		return trace.Wrap(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return trace.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return trace.Wrap(err)
	}

	if loc == LocationRemote && w.cfg.Remote != nil {
		if err := w.cfg.Remote.Upload(ctx, tmpPath, path); err != nil {
			return trace.Wrap(err, "uploading aggregate config to remote host")
		}
		return nil
	}

	command := fmt.Sprintf("mv %s %s", shellQuote(tmpPath), shellQuote(path))
	_, err = w.cfg.Local.ExecuteLocalPrivileged(ctx, command)
	return trace.Wrap(err)
}

// shellQuote wraps s in single quotes for the pre-composed command
// strings this package hands to the exec channel, which does no
// escaping of its own (spec §4.A).
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
