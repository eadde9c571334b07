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

package existence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/raywonder/openlink/lib/execchannel"
	"github.com/raywonder/openlink/lib/proxyconfig"
)

type fakeRegistry struct {
	owners map[string]string
}

func (f *fakeRegistry) HasFullName(fullName string) (string, bool) {
	owner, ok := f.owners[fullName]
	return owner, ok
}

type fakeExec struct {
	responses map[string]*execchannel.Result
}

func (f *fakeExec) ExecuteLocalPrivileged(ctx context.Context, command string) (*execchannel.Result, error) {
	if r, ok := f.responses[command]; ok {
		return r, nil
	}
	return &execchannel.Result{ExitStatus: 1, Stderr: "** server can't find: NXDOMAIN"}, nil
}
func (f *fakeExec) ExecuteRemote(ctx context.Context, command string) (*execchannel.Result, error) {
	return nil, nil
}
func (f *fakeExec) Upload(ctx context.Context, localPath, remotePath string) error { return nil }

func TestExistsRegistryShortCircuitsPositive(t *testing.T) {
	reg := &fakeRegistry{owners: map[string]string{"foo.openlink.local": "conn-1"}}
	checker, err := New(Config{Registry: reg})
	require.NoError(t, err)

	result := checker.Exists(context.Background(), "foo.openlink.local")
	require.True(t, result.Exists)
	require.Equal(t, TagInternal, result.Tag)
}

func TestExistsDNSProbePositive(t *testing.T) {
	exec := &fakeExec{responses: map[string]*execchannel.Result{
		"nslookup 'bar.raywonderis.me'": {ExitStatus: 0, Stdout: "Name: bar.raywonderis.me\nAddress: 1.2.3.4"},
	}}
	checker, err := New(Config{Exec: exec})
	require.NoError(t, err)

	result := checker.Exists(context.Background(), "bar.raywonderis.me")
	require.True(t, result.Exists)
	require.Equal(t, TagExternal, result.Tag)
}

type successExec struct{}

func (successExec) ExecuteLocalPrivileged(ctx context.Context, command string) (*execchannel.Result, error) {
	// Carry out the writer's "mv <tmp> <dst>" so the block lands on disk.
	if strings.HasPrefix(command, "mv ") {
		args := strings.SplitN(strings.TrimPrefix(command, "mv "), " ", 2)
		data, err := os.ReadFile(strings.Trim(args[0], "'"))
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(strings.Trim(args[1], "'"), data, 0o644); err != nil {
			return nil, err
		}
	}
	return &execchannel.Result{ExitStatus: 0}, nil
}
func (successExec) ExecuteRemote(ctx context.Context, command string) (*execchannel.Result, error) {
	return &execchannel.Result{ExitStatus: 0}, nil
}
func (successExec) Upload(ctx context.Context, localPath, remotePath string) error { return nil }

func TestExistsNginxBlockPositive(t *testing.T) {
	dir := t.TempDir()
	writer, err := proxyconfig.New(proxyconfig.Config{
		Paths: proxyconfig.Paths{Local: filepath.Join(dir, "local.conf")},
		Local: successExec{},
	})
	require.NoError(t, err)
	require.NoError(t, writer.Add(context.Background(), proxyconfig.Domain{
		DomainID:   "deadbeef",
		FullName:   "baz.openlink.local",
		TargetHost: "127.0.0.1",
		TargetPort: 9999,
		Location:   proxyconfig.LocationLocal,
	}))

	checker, err := New(Config{Proxy: writer})
	require.NoError(t, err)

	result := checker.Exists(context.Background(), "baz.openlink.local")
	require.True(t, result.Exists)
	require.Equal(t, TagExternalNginx, result.Tag)
}

func TestExistsNegativeWhenNothingMatches(t *testing.T) {
	checker, err := New(Config{})
	require.NoError(t, err)

	result := checker.Exists(context.Background(), "nowhere.example.com")
	require.False(t, result.Exists)
}

func TestCacheExpiresAfterFreshTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := 0
	exec := &fakeExecCounter{count: &calls}
	checker, err := New(Config{Exec: exec, Clock: clock})
	require.NoError(t, err)

	r1 := checker.Exists(context.Background(), "x.example.com")
	require.False(t, r1.Exists)
	require.Equal(t, 1, calls, "first call should probe DNS")

	// Within the fresh window: cache answers without re-probing.
	clock.Advance(2 * time.Minute)
	r2 := checker.Exists(context.Background(), "x.example.com")
	require.False(t, r2.Exists)
	require.Equal(t, 1, calls, "cached answer should not re-probe")

	// Past the fresh window: re-probes.
	clock.Advance(10 * time.Minute)
	r3 := checker.Exists(context.Background(), "x.example.com")
	require.False(t, r3.Exists)
	require.Equal(t, 2, calls, "stale cache entry should trigger a fresh probe")
}

func TestEvictStaleDropsEntriesPastHardTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	checker, err := New(Config{Clock: clock})
	require.NoError(t, err)

	checker.Exists(context.Background(), "y.example.com")
	require.Len(t, checker.cache, 1)

	clock.Advance(31 * time.Minute)
	checker.EvictStale()
	require.Empty(t, checker.cache)
}

type fakeExecCounter struct {
	count *int
}

func (f *fakeExecCounter) ExecuteLocalPrivileged(ctx context.Context, command string) (*execchannel.Result, error) {
	*f.count++
	return &execchannel.Result{ExitStatus: 1, Stderr: "NXDOMAIN"}, nil
}
func (f *fakeExecCounter) ExecuteRemote(ctx context.Context, command string) (*execchannel.Result, error) {
	return nil, nil
}
func (f *fakeExecCounter) Upload(ctx context.Context, localPath, remotePath string) error {
	return nil
}
