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
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestLocalSudoChannelUnsupportedOps(t *testing.T) {
	t.Parallel()

	ch, err := NewLocalSudoChannel(LocalConfig{SudoSecret: "swordfish"})
	require.NoError(t, err)

	_, err = ch.ExecuteRemote(context.Background(), "echo hi")
	require.Error(t, err)
	require.True(t, trace.IsNotImplemented(err))

	err = ch.Upload(context.Background(), "/tmp/a", "/tmp/b")
	require.Error(t, err)
	require.True(t, trace.IsNotImplemented(err))
}

func TestLocalSudoChannelRunsShellCommand(t *testing.T) {
	t.Parallel()

	ch, err := NewLocalSudoChannel(LocalConfig{SudoSecret: ""})
	require.NoError(t, err)

	// sudo is not necessarily present in the test sandbox and would hang
	// or fail waiting on a password, so this exercises only the timeout
	// plumbing rather than an actual elevation.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := ch.ExecuteLocalPrivileged(ctx, "echo hi")
	if err != nil {
		require.True(t, IsConnectionError(err))
		return
	}
	require.NotNil(t, result)
}

func TestRemoteConfigValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     RemoteConfig
		wantErr bool
	}{
		{name: "missing host", cfg: RemoteConfig{User: "u", PrivateKeyPath: "/tmp/k"}, wantErr: true},
		{name: "missing user", cfg: RemoteConfig{Host: "h", PrivateKeyPath: "/tmp/k"}, wantErr: true},
		{name: "missing key path", cfg: RemoteConfig{Host: "h", User: "u"}, wantErr: true},
		{name: "defaults port to 22", cfg: RemoteConfig{Host: "h", User: "u", PrivateKeyPath: "/tmp/k"}, wantErr: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.CheckAndSetDefaults()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, 22, tc.cfg.Port)
		})
	}
}
