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

package domainbroker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/raywonder/openlink/lib/execchannel"
	"github.com/raywonder/openlink/lib/existence"
	"github.com/raywonder/openlink/lib/portalloc"
	"github.com/raywonder/openlink/lib/proxyconfig"
)

type successChannel struct{}

func (successChannel) ExecuteLocalPrivileged(ctx context.Context, command string) (*execchannel.Result, error) {
	return &execchannel.Result{ExitStatus: 0}, nil
}
func (successChannel) ExecuteRemote(ctx context.Context, command string) (*execchannel.Result, error) {
	return &execchannel.Result{ExitStatus: 0}, nil
}
func (successChannel) Upload(ctx context.Context, localPath, remotePath string) error { return nil }

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	dir := t.TempDir()
	writer, err := proxyconfig.New(proxyconfig.Config{
		Paths: proxyconfig.Paths{Local: filepath.Join(dir, "local.conf")},
		Local: successChannel{},
	})
	require.NoError(t, err)

	allocator, err := portalloc.New(8000, 8010)
	require.NoError(t, err)

	checker, err := existence.New(existence.Config{Proxy: writer})
	require.NoError(t, err)

	b, err := New(Config{
		Allocator:   allocator,
		Proxy:       writer,
		Existence:   checker,
		BaseDomains: []string{"openlink.local", "raywonderis.me"},
	})
	require.NoError(t, err)
	return b
}

func TestDomainLifecycleScenario(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	d, err := b.RequestDomain(ctx, RequestSpec{
		RequesterID: "conn-1",
		Subdomain:   "foo",
		BaseDomain:  "openlink.local",
		TargetHost:  "127.0.0.1",
		TargetPort:  8765,
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, d.Status)
	require.NotZero(t, d.Port)

	require.NoError(t, b.ReleaseDomain(ctx, d.ID))

	_, err = b.Get(d.ID)
	require.True(t, trace.IsNotFound(err))

	d2, err := b.RequestDomain(ctx, RequestSpec{
		RequesterID: "conn-1",
		Subdomain:   "foo",
		BaseDomain:  "openlink.local",
		TargetHost:  "127.0.0.1",
		TargetPort:  8765,
	})
	require.NoError(t, err)
	require.NotEqual(t, d.ID, d2.ID)
}

func TestPermitOnlyRequestMintsDefaultPermit(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	d, err := b.RequestDomain(ctx, RequestSpec{
		RequesterID: "conn-1",
		Subdomain:   "secure",
		BaseDomain:  "openlink.local",
		TargetHost:  "127.0.0.1",
		TargetPort:  8765,
		PermitOnly:  true,
	})
	require.NoError(t, err)
	require.Equal(t, AccessPermitOnly, d.Access)
	require.Len(t, d.PermitIDs, 1)
	require.True(t, b.ValidatePermit(d.PermitIDs[0], d.FullName))
}

func TestReleaseTwiceIsNotFound(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	d, err := b.RequestDomain(ctx, RequestSpec{
		RequesterID: "conn-1", Subdomain: "bar", BaseDomain: "openlink.local",
		TargetHost: "127.0.0.1", TargetPort: 9000,
	})
	require.NoError(t, err)

	require.NoError(t, b.ReleaseDomain(ctx, d.ID))
	err = b.ReleaseDomain(ctx, d.ID)
	require.True(t, trace.IsNotFound(err))
}

func TestExternallyManagedRejection(t *testing.T) {
	dir := t.TempDir()
	writer, err := proxyconfig.New(proxyconfig.Config{
		Paths: proxyconfig.Paths{Local: filepath.Join(dir, "local.conf")},
		Local: successChannel{},
	})
	require.NoError(t, err)

	allocator, err := portalloc.New(8000, 8010)
	require.NoError(t, err)

	// Pre-seed a positive external (non-nginx) hit via the DNS probe path.
	exec := fakeDNSHit{}
	checker, err := existence.New(existence.Config{Proxy: writer, Exec: exec})
	require.NoError(t, err)

	b, err := New(Config{
		Allocator:   allocator,
		Proxy:       writer,
		Existence:   checker,
		BaseDomains: []string{"raywonderis.me"},
	})
	require.NoError(t, err)

	_, err = b.RequestDomain(context.Background(), RequestSpec{
		RequesterID: "conn-1", Subdomain: "bar", BaseDomain: "raywonderis.me",
		TargetHost: "127.0.0.1", TargetPort: 8765,
	})
	require.Error(t, err)
	require.True(t, trace.IsAccessDenied(err))
	require.Empty(t, b.Snapshot())
	require.Empty(t, allocator.InUse())
}

type fakeDNSHit struct{}

func (fakeDNSHit) ExecuteLocalPrivileged(ctx context.Context, command string) (*execchannel.Result, error) {
	return &execchannel.Result{ExitStatus: 0, Stdout: "Name: bar.raywonderis.me\nAddress: 5.6.7.8"}, nil
}
func (fakeDNSHit) ExecuteRemote(ctx context.Context, command string) (*execchannel.Result, error) {
	return nil, nil
}
func (fakeDNSHit) Upload(ctx context.Context, localPath, remotePath string) error { return nil }

func TestPermitValidation(t *testing.T) {
	b := newTestBroker(t)
	p := b.CreatePermit("*.raywonderis.me", time.Hour, []string{"read"}, "", "operator")
	require.True(t, b.ValidatePermit(p.ID, "foo.raywonderis.me"))
	require.False(t, b.ValidatePermit(p.ID, "foo.otherdomain.com"))
	require.False(t, b.ValidatePermit("nonexistent-token", "foo.raywonderis.me"))
}

func TestTemporaryURLUsageCap(t *testing.T) {
	b := newTestBroker(t)
	d, err := b.RequestDomain(context.Background(), RequestSpec{
		RequesterID: "conn-1", Subdomain: "baz", BaseDomain: "openlink.local",
		TargetHost: "127.0.0.1", TargetPort: 8765,
	})
	require.NoError(t, err)

	tu, err := b.CreateTemporaryURL(d.ID, time.Minute, 1, nil, "")
	require.NoError(t, err)

	require.True(t, b.ValidateTemporaryURL(tu.ID, tu.Token))
	require.False(t, b.ValidateTemporaryURL(tu.ID, tu.Token), "second use must be rejected at the usage cap")
}
