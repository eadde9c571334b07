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

// Package existence answers "does this fully-qualified name already
// resolve or already appear in proxy configuration?" (component D). It
// consults the in-memory active-domain registry first, then a
// short-TTL cache, then a live name-resolution probe, then the
// aggregate proxy config files, short-circuiting on the first positive.
package existence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/defaults"
	"github.com/raywonder/openlink/lib/execchannel"
	"github.com/raywonder/openlink/lib/proxyconfig"
)

// Tag classifies how a positive result was established.
type Tag string

const (
	TagInternal      Tag = "internal"
	TagExternal      Tag = "external"
	TagExternalNginx Tag = "external+nginx"
)

// Result is the answer to an existence query.
type Result struct {
	Exists bool
	Tag    Tag
}

// Registry is the read-only view of the active-domain registry that
// component E owns; D only reads it.
type Registry interface {
	// HasFullName reports whether fullName belongs to an active domain
	// record, and if so returns the connection ID of its owner.
	HasFullName(fullName string) (ownerConnID string, ok bool)
}

type cacheEntry struct {
	result   Result
	cachedAt time.Time
}

// Config configures a Checker.
type Config struct {
	Registry Registry
	Exec     execchannel.Channel
	Proxy    *proxyconfig.Writer
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
	// NslookupCommand is the pre-composed command template; "%s" is
	// replaced with the shell-quoted full name.
	NslookupCommand string
}

func (c *Config) checkAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField("component", "existence")
	}
	if c.NslookupCommand == "" {
		c.NslookupCommand = "nslookup %s"
	}
	return nil
}

// Checker implements the D resolution order.
type Checker struct {
	cfg Config

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs a Checker.
func New(cfg Config) (*Checker, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, err
	}
	return &Checker{cfg: cfg, cache: make(map[string]cacheEntry)}, nil
}

// Exists answers exists?(fullName) per the resolution order in spec §4.D.
func (c *Checker) Exists(ctx context.Context, fullName string) Result {
	fullName = strings.ToLower(strings.TrimSpace(fullName))

	if c.cfg.Registry != nil {
		if _, ok := c.cfg.Registry.HasFullName(fullName); ok {
			return Result{Exists: true, Tag: TagInternal}
		}
	}

	if cached, ok := c.lookupCache(fullName); ok {
		return cached
	}

	if resolved := c.probeDNS(ctx, fullName); resolved {
		result := Result{Exists: true, Tag: TagExternal}
		c.store(fullName, result)
		return result
	}

	if c.cfg.Proxy != nil {
		for _, loc := range []proxyconfig.Location{proxyconfig.LocationLocal, proxyconfig.LocationRemote} {
			has, err := c.cfg.Proxy.HasServerName(loc, fullName)
			if err == nil && has {
				result := Result{Exists: true, Tag: TagExternalNginx}
				c.store(fullName, result)
				return result
			}
		}
	}

	result := Result{Exists: false}
	c.store(fullName, result)
	return result
}

func (c *Checker) lookupCache(fullName string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[fullName]
	if !ok {
		return Result{}, false
	}
	age := c.cfg.Clock.Now().Sub(entry.cachedAt)
	if age > defaults.ExistenceCacheFresh {
		return Result{}, false
	}
	return entry.result, true
}

func (c *Checker) store(fullName string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[fullName] = cacheEntry{result: result, cachedAt: c.cfg.Clock.Now()}
}

// probeDNS performs a name-resolution probe via the exec channel,
// treating a resolved address as a positive external hit and NXDOMAIN
// (or any resolution failure) as negative.
func (c *Checker) probeDNS(ctx context.Context, fullName string) bool {
	if c.cfg.Exec == nil {
		return false
	}
	command := fmt.Sprintf(c.cfg.NslookupCommand, shellQuote(fullName))
	result, err := c.cfg.Exec.ExecuteLocalPrivileged(ctx, command)
	if err != nil || result == nil {
		return false
	}
	if result.ExitStatus != 0 {
		return false
	}
	if strings.Contains(strings.ToLower(result.Stdout), "nxdomain") {
		return false
	}
	return strings.Contains(result.Stdout, "Address")
}

// EvictStale drops cache entries older than the hard TTL (30 min
// default). Called by the domain broker's background GC sweep.
func (c *Checker) EvictStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.cfg.Clock.Now()
	for name, entry := range c.cache {
		if now.Sub(entry.cachedAt) > defaults.ExistenceCacheMaxAge {
			delete(c.cache, name)
		}
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
