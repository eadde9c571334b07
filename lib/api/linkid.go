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

package api

import (
	"crypto/rand"
	"math/big"
)

const linkIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newLinkID generates an operator-triggered replacement link ID, the
// same shape the duplex-channel dispatcher generates for a
// caller-omitted session ID.
func newLinkID() string {
	b := make([]byte, 8)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(linkIDAlphabet))))
		if err != nil {
			b[i] = linkIDAlphabet[0]
			continue
		}
		b[i] = linkIDAlphabet[n.Int64()]
	}
	return string(b)
}
