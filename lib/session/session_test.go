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

package session

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestCreateGetDeleteRoundTrip(t *testing.T) {
	r := NewRegistry(time.Hour)
	now := time.Now()

	_, err := r.Create("abcd1234", now)
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	_, err = r.Get("abcd1234")
	require.NoError(t, err)

	r.Delete("abcd1234")
	require.Equal(t, 0, r.Len())

	_, err = r.Get("abcd1234")
	require.True(t, trace.IsNotFound(err))
}

func TestCreateDuplicateIsAlreadyExists(t *testing.T) {
	r := NewRegistry(time.Hour)
	now := time.Now()

	_, err := r.Create("dup1", now)
	require.NoError(t, err)
	_, err = r.Create("dup1", now)
	require.True(t, trace.IsAlreadyExists(err))
}

func TestRenameSwapsKeyAndUpdatesID(t *testing.T) {
	r := NewRegistry(time.Hour)
	now := time.Now()

	_, err := r.Create("old1", now)
	require.NoError(t, err)

	s, err := r.Rename("old1", "new1")
	require.NoError(t, err)
	require.Equal(t, "new1", s.ID)

	_, err = r.Get("old1")
	require.True(t, trace.IsNotFound(err))

	got, err := r.Get("new1")
	require.NoError(t, err)
	require.Same(t, s, got)
}

func TestReapExpiredOnlyReapsPeerlessPastTTL(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Now()

	s1, err := r.Create("empty", now)
	require.NoError(t, err)
	_ = s1

	s2, err := r.Create("hosted", now)
	require.NoError(t, err)
	s2.HostConnID = "conn-1"

	later := now.Add(2 * time.Minute)
	reaped := r.ReapExpired(later)

	require.Len(t, reaped, 1)
	require.Equal(t, "empty", reaped[0].ID)
	require.Equal(t, 1, r.Len())
}
