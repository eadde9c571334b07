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

package storecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "foo.openlink.local")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "foo.openlink.local", Entry{Exists: true, Tag: "internal"}, time.Minute))

	entry, ok, err := c.Get(ctx, "foo.openlink.local")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, entry.Exists)
	require.Equal(t, "internal", entry.Tag)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "bar.openlink.local", Entry{Exists: false}, time.Minute))
	require.NoError(t, c.Delete(ctx, "bar.openlink.local"))

	_, ok, err := c.Get(ctx, "bar.openlink.local")
	require.NoError(t, err)
	require.False(t, ok)
}
