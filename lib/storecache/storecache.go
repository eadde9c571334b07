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

// Package storecache provides an optional Redis-backed existence-check
// cache, for deployments running more than one openlinkd instance
// against a shared broker where the in-process cache in lib/existence
// would otherwise diverge per-instance.
package storecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/gravitational/trace"
)

// Entry mirrors existence.Result for cross-process storage.
type Entry struct {
	Exists bool   `json:"exists"`
	Tag    string `json:"tag,omitempty"`
}

// Cache is a Redis-backed cache of existence-check results, keyed by
// fully-qualified name.
type Cache struct {
	client *redis.Client
	prefix string
}

// New constructs a Cache over an existing Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "openlink:existence:"}
}

// Get returns the cached entry for fullName, if present and unexpired.
func (c *Cache) Get(ctx context.Context, fullName string) (Entry, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+fullName).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, trace.Wrap(err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, trace.Wrap(err)
	}
	return entry, true, nil
}

// Set stores entry for fullName with the given TTL.
func (c *Cache) Set(ctx context.Context, fullName string, entry Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.client.Set(ctx, c.prefix+fullName, data, ttl).Err())
}

// Delete removes the cached entry for fullName.
func (c *Cache) Delete(ctx context.Context, fullName string) error {
	return trace.Wrap(c.client.Del(ctx, c.prefix+fullName).Err())
}
