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

// Package portalloc allocates and releases TCP port numbers from a
// contiguous range for the domain broker (component B). Allocation state
// is entirely in-memory and calls behave as if totally ordered: no two
// concurrent Allocate calls ever return the same port.
package portalloc

import (
	"sync"

	"github.com/gravitational/trace"
)

// Allocator hands out ports from [min, max], guaranteeing no double
// allocation under concurrent use.
type Allocator struct {
	mu       sync.Mutex
	min, max int
	inUse    map[int]bool
}

// New constructs an Allocator over the inclusive range [min, max].
func New(min, max int) (*Allocator, error) {
	if max < min {
		return nil, trace.BadParameter("port range max %d is below min %d", max, min)
	}
	return &Allocator{
		min:   min,
		max:   max,
		inUse: make(map[int]bool),
	}, nil
}

// Allocate returns the lowest free port in range, or an AlreadyExists-kind
// (conflict) error once the range is exhausted.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.min; p <= a.max; p++ {
		if a.inUse[p] {
			continue
		}
		a.inUse[p] = true
		return p, nil
	}
	return 0, trace.AlreadyExists("port range exhausted")
}

// Release frees port. Releasing a port that was not allocated, or that
// falls outside the configured range, is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}

// InUse reports the set of currently allocated ports. Intended for
// invariant checks and introspection, not the hot allocation path.
func (a *Allocator) InUse() map[int]bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]bool, len(a.inUse))
	for p := range a.inUse {
		out[p] = true
	}
	return out
}
