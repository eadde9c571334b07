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

// Package domainbroker implements the top-level domain broker (component
// E): request/release-domain, permits, temporary URLs, and the active
// domain registry, orchestrating the port allocator, proxy config
// writer, and existence checker.
package domainbroker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/defaults"
	"github.com/raywonder/openlink/lib/existence"
	"github.com/raywonder/openlink/lib/portalloc"
	"github.com/raywonder/openlink/lib/proxyconfig"
)

// AccessControl is a domain's access-control mode.
type AccessControl string

const (
	AccessPublic     AccessControl = "public"
	AccessPermitOnly AccessControl = "permit-only"
)

// Status is a domain record's lifecycle status.
type Status string

const (
	StatusCreating Status = "creating"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
)

// Domain is the full domain record (spec §3).
type Domain struct {
	ID             string
	RequesterID    string
	Subdomain      string
	BaseDomain     string
	FullName       string
	TargetHost     string
	TargetPort     int
	TLS            bool
	Port           int
	Location       proxyconfig.Location
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time
	PermitIDs      []string
	TempURLIDs     []string
	Access         AccessControl
	RequesterLANIP string
}

// Permit is a long-lived authorization token matched against a pattern.
type Permit struct {
	ID          string
	Pattern     string
	Duration    time.Duration
	Permissions []string
	BoundClient string
	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsageCount  int
	LastUsed    time.Time
}

// TemporaryURL is a short-lived, usage-capped access token for a domain.
type TemporaryURL struct {
	ID          string
	DomainID    string
	Token       string
	Duration    time.Duration
	MaxUses     int
	CurrentUses int
	Permissions []string
	BoundClient string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessLog   []time.Time
}

// RequestSpec is the input to RequestDomain.
type RequestSpec struct {
	RequesterID    string
	Subdomain      string
	BaseDomain     string
	TargetHost     string
	TargetPort     int
	TLS            bool
	PermitToken    string
	Temporary      bool
	Duration       time.Duration
	RequesterLANIP string
	// PermitOnly requests AccessPermitOnly instead of the default
	// AccessPublic for the new domain record.
	PermitOnly bool
}

// Config configures a Broker.
type Config struct {
	Allocator   *portalloc.Allocator
	Proxy       *proxyconfig.Writer
	Existence   *existence.Checker
	BaseDomains []string
	Clock       clockwork.Clock
	Log         logrus.FieldLogger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Allocator == nil {
		return trace.BadParameter("missing port allocator")
	}
	if c.Proxy == nil {
		return trace.BadParameter("missing proxy config writer")
	}
	if c.Existence == nil {
		return trace.BadParameter("missing existence checker")
	}
	if len(c.BaseDomains) == 0 {
		return trace.BadParameter("at least one base domain must be configured")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField("component", "domainbroker")
	}
	return nil
}

// Broker is the top-level domain broker API.
type Broker struct {
	cfg Config

	mu       sync.Mutex
	domains  map[string]*Domain
	permits  map[string]*Permit
	tempURLs map[string]*TemporaryURL
}

// New constructs a Broker.
func New(cfg Config) (*Broker, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Broker{
		cfg:      cfg,
		domains:  make(map[string]*Domain),
		permits:  make(map[string]*Permit),
		tempURLs: make(map[string]*TemporaryURL),
	}, nil
}

// HasFullName implements existence.Registry.
func (b *Broker) HasFullName(fullName string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.domains {
		if d.FullName == fullName && d.Status == StatusActive {
			return d.RequesterID, true
		}
	}
	return "", false
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

var subdomainPattern = func(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return false
		}
	}
	return true
}

func resolveLocation(baseDomain string) proxyconfig.Location {
	if baseDomain == "localhost" || strings.HasSuffix(baseDomain, ".local") {
		return proxyconfig.LocationLocal
	}
	return proxyconfig.LocationRemote
}

// RequestDomain implements the E.request-domain algorithm (spec §4.E).
func (b *Broker) RequestDomain(ctx context.Context, spec RequestSpec) (*Domain, error) {
	if !subdomainPattern(spec.Subdomain) {
		return nil, trace.BadParameter("malformed-request: invalid subdomain %q", spec.Subdomain)
	}
	if !b.allowedBaseDomain(spec.BaseDomain) {
		return nil, trace.BadParameter("malformed-request: base domain %q not in allowlist", spec.BaseDomain)
	}
	if spec.TargetHost == "" || spec.TargetPort <= 0 || spec.TargetPort > 65535 {
		return nil, trace.BadParameter("malformed-request: invalid target")
	}

	fullName := spec.Subdomain + "." + spec.BaseDomain
	location := resolveLocation(spec.BaseDomain)

	existResult := b.cfg.Existence.Exists(ctx, fullName)
	if existResult.Exists {
		owner, ownsInternally := b.HasFullName(fullName)
		if !ownsInternally {
			return nil, trace.AccessDenied("externally-managed")
		}
		if owner != spec.RequesterID && !b.validatePermitLocked(spec.PermitToken, fullName) {
			return nil, trace.AccessDenied("access-denied")
		}
		// Internal and either owned by the requester or authorized by a
		// valid permit: this is an extend/update of the existing record,
		// never a second record for the same full name.
		return b.extendExisting(fullName, spec)
	}

	port, err := b.cfg.Allocator.Allocate()
	if err != nil {
		return nil, trace.Wrap(err, "conflict")
	}

	now := b.cfg.Clock.Now()
	expiry := now.Add(defaults.MaxDomainLife)
	if spec.Temporary && spec.Duration > 0 && spec.Duration < defaults.MaxDomainLife {
		expiry = now.Add(spec.Duration)
	}

	access := AccessPublic
	if spec.PermitOnly {
		access = AccessPermitOnly
	}
	d := &Domain{
		ID:             randomHex(8),
		RequesterID:    spec.RequesterID,
		Subdomain:      spec.Subdomain,
		BaseDomain:     spec.BaseDomain,
		FullName:       fullName,
		TargetHost:     spec.TargetHost,
		TargetPort:     spec.TargetPort,
		TLS:            spec.TLS,
		Port:           port,
		Location:       location,
		Status:         StatusCreating,
		CreatedAt:      now,
		ExpiresAt:      expiry,
		Access:         access,
		RequesterLANIP: spec.RequesterLANIP,
	}

	if err := b.cfg.Proxy.Add(ctx, proxyconfig.Domain{
		DomainID:       d.ID,
		FullName:       d.FullName,
		TargetHost:     d.TargetHost,
		TargetPort:     d.TargetPort,
		TLS:            d.TLS,
		Location:       d.Location,
		RequesterLANIP: d.RequesterLANIP,
	}); err != nil {
		b.cfg.Allocator.Release(port)
		return nil, trace.Wrap(err)
	}

	d.Status = StatusActive

	if d.Access != AccessPublic {
		permit := b.CreatePermit(d.FullName, defaults.MaxPermitDuration, []string{"read", "connect", "write"}, d.RequesterID, "system")
		d.PermitIDs = append(d.PermitIDs, permit.ID)
	}

	b.mu.Lock()
	b.domains[d.ID] = d
	b.mu.Unlock()

	return d, nil
}

func (b *Broker) allowedBaseDomain(base string) bool {
	for _, allowed := range b.cfg.BaseDomains {
		if allowed == base {
			return true
		}
	}
	return false
}

func (b *Broker) extendExisting(fullName string, spec RequestSpec) (*Domain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.domains {
		if d.FullName == fullName {
			if spec.Temporary && spec.Duration > 0 {
				if next := b.cfg.Clock.Now().Add(spec.Duration); next.Before(d.ExpiresAt) || next.Sub(d.CreatedAt) <= defaults.MaxDomainLife {
					d.ExpiresAt = next
				}
			}
			return d, nil
		}
	}
	return nil, trace.NotFound("domain record for %v vanished", fullName)
}

// ReleaseDomain implements E.release-domain.
func (b *Broker) ReleaseDomain(ctx context.Context, domainID string) error {
	b.mu.Lock()
	d, ok := b.domains[domainID]
	if ok {
		delete(b.domains, domainID)
	}
	b.mu.Unlock()
	if !ok {
		return trace.NotFound("domain %v not found", domainID)
	}

	if err := b.cfg.Proxy.Remove(ctx, proxyconfig.Domain{
		DomainID: d.ID,
		FullName: d.FullName,
		Location: d.Location,
	}); err != nil {
		return trace.Wrap(err)
	}
	b.cfg.Allocator.Release(d.Port)
	return nil
}

// Get returns the domain record for id.
func (b *Broker) Get(id string) (*Domain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.domains[id]
	if !ok {
		return nil, trace.NotFound("domain %v not found", id)
	}
	return d, nil
}

// Snapshot returns all active domain records.
func (b *Broker) Snapshot() []*Domain {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Domain, 0, len(b.domains))
	for _, d := range b.domains {
		out = append(out, d)
	}
	return out
}

// CreatePermit implements E.create-permit.
func (b *Broker) CreatePermit(pattern string, duration time.Duration, permissions []string, boundClient, createdBy string) *Permit {
	if duration <= 0 || duration > defaults.MaxPermitDuration {
		duration = defaults.MaxPermitDuration
	}
	now := b.cfg.Clock.Now()
	p := &Permit{
		ID:          randomHex(16),
		Pattern:     pattern,
		Duration:    duration,
		Permissions: permissions,
		BoundClient: boundClient,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(duration),
	}
	b.mu.Lock()
	b.permits[p.ID] = p
	b.mu.Unlock()
	return p
}

// ValidatePermit implements E.validate-permit.
func (b *Broker) ValidatePermit(token, name string) bool {
	return b.validatePermitLocked(token, name)
}

func (b *Broker) validatePermitLocked(token, name string) bool {
	if token == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.permits {
		if p.ID != token {
			continue
		}
		now := b.cfg.Clock.Now()
		if !now.Before(p.ExpiresAt) {
			return false
		}
		if !patternMatches(p.Pattern, name) {
			return false
		}
		p.UsageCount++
		p.LastUsed = now
		return true
	}
	return false
}

func patternMatches(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(name, pattern[1:])
	}
	return pattern == name
}

// CreateTemporaryURL implements E.create-temporary-url.
func (b *Broker) CreateTemporaryURL(domainID string, duration time.Duration, maxUses int, permissions []string, boundClient string) (*TemporaryURL, error) {
	b.mu.Lock()
	_, ok := b.domains[domainID]
	b.mu.Unlock()
	if !ok {
		return nil, trace.NotFound("domain %v not found", domainID)
	}
	if duration <= 0 || duration > defaults.MaxDomainLife {
		duration = defaults.DefaultTempURLTTL
	}
	if maxUses <= 0 {
		maxUses = 1
	}
	now := b.cfg.Clock.Now()
	t := &TemporaryURL{
		ID:          randomHex(8),
		DomainID:    domainID,
		Token:       randomHex(16),
		Duration:    duration,
		MaxUses:     maxUses,
		Permissions: permissions,
		BoundClient: boundClient,
		CreatedAt:   now,
		ExpiresAt:   now.Add(duration),
	}
	b.mu.Lock()
	b.tempURLs[t.ID] = t
	if d, ok := b.domains[domainID]; ok {
		d.TempURLIDs = append(d.TempURLIDs, t.ID)
	}
	b.mu.Unlock()
	return t, nil
}

// ValidateTemporaryURL implements E.validate-temporary-url.
func (b *Broker) ValidateTemporaryURL(urlID, token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tempURLs[urlID]
	if !ok || t.Token != token {
		return false
	}
	now := b.cfg.Clock.Now()
	if !now.Before(t.ExpiresAt) {
		return false
	}
	if t.CurrentUses >= t.MaxUses {
		return false
	}
	t.CurrentUses++
	t.AccessLog = append(t.AccessLog, now)
	return true
}

// AccessURL composes the access URL for a domain record.
func AccessURL(d *Domain) string {
	scheme := "http"
	if d.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, d.FullName, d.Port)
}

// GC runs the periodic sweep: releases expired domains, drops expired
// permits and temporary URLs, and evicts stale existence-cache entries.
// Called every CleanupCadence (15 min default) by the server's
// background loop.
func (b *Broker) GC(ctx context.Context) {
	now := b.cfg.Clock.Now()

	var expiredDomains []string
	b.mu.Lock()
	for id, d := range b.domains {
		if now.After(d.ExpiresAt) {
			expiredDomains = append(expiredDomains, id)
		}
	}
	for id, p := range b.permits {
		if now.After(p.ExpiresAt) {
			delete(b.permits, id)
		}
	}
	for id, t := range b.tempURLs {
		if now.After(t.ExpiresAt) {
			delete(b.tempURLs, id)
		}
	}
	b.mu.Unlock()

	for _, id := range expiredDomains {
		if err := b.ReleaseDomain(ctx, id); err != nil {
			b.cfg.Log.WithError(err).Warnf("failed to release expired domain %v", id)
		}
	}

	b.cfg.Existence.EvictStale()
}
