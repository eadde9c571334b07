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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRemoteShellChannelDialFailureIsConnectionError(t *testing.T) {
	t.Parallel()

	// Nothing listens on this port; net.DialTimeout fails fast.
	cfg := RemoteConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "openlink",
		PrivateKeyPath: writeThrowawayKey(t),
	}
	ch, err := NewRemoteShellChannel(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = ch.ExecuteRemote(ctx, "echo hi")
	require.Error(t, err)
	require.True(t, IsConnectionError(err))
}

func TestRemoteShellChannelLocalUnsupported(t *testing.T) {
	t.Parallel()

	cfg := RemoteConfig{
		Host:           "127.0.0.1",
		Port:           22,
		User:           "openlink",
		PrivateKeyPath: writeThrowawayKey(t),
	}
	ch, err := NewRemoteShellChannel(cfg)
	require.NoError(t, err)

	_, err = ch.ExecuteLocalPrivileged(context.Background(), "echo hi")
	require.Error(t, err)
}

// writeThrowawayKey generates a throwaway RSA key, PEM-encodes it, writes
// it to a temp file, and returns the path, so RemoteConfig has a real
// parseable key to load without touching an operator's actual identity.
func writeThrowawayKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	path := filepath.Join(t.TempDir(), "id_test")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}
