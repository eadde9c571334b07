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

package portalloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateLowestFree(t *testing.T) {
	a, err := New(8000, 8002)
	require.NoError(t, err)

	p1, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, 8000, p1)

	p2, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, 8001, p2)

	a.Release(p1)

	p3, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, 8000, p3, "released port should be reusable")

	p4, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, 8002, p4)
}

func TestAllocateExhaustion(t *testing.T) {
	a, err := New(9000, 9001)
	require.NoError(t, err)

	_, err = a.Allocate()
	require.NoError(t, err)
	_, err = a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	require.Error(t, err)
}

func TestReleaseUnallocatedIsNoop(t *testing.T) {
	a, err := New(8000, 8010)
	require.NoError(t, err)

	a.Release(8005) // never allocated
	require.Empty(t, a.InUse())
}

func TestNewRejectsInvertedRange(t *testing.T) {
	_, err := New(9000, 8999)
	require.Error(t, err)
}

func TestAllocateConcurrentNoDoubleAllocation(t *testing.T) {
	const rangeSize = 500
	a, err := New(10000, 10000+rangeSize-1)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seen    = make(map[int]int)
		workers = 50
	)
	results := make([]int, 0, rangeSize)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p, err := a.Allocate()
				if err != nil {
					return
				}
				mu.Lock()
				seen[p]++
				results = append(results, p)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, results, rangeSize)
	for port, count := range seen {
		require.Equalf(t, 1, count, "port %d allocated %d times", port, count)
	}
}
