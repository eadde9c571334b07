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

// Package identity persists a peer-identity record (machine ID and
// wallet fingerprint) to a file under the user configuration directory,
// so that "same identity" peer discovery survives a client restart
// (spec §6, Domain Record persistence).
package identity

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"
)

// Record is the persisted identity of this peer.
type Record struct {
	MachineID         string `yaml:"machine_id"`
	WalletFingerprint string `yaml:"wallet_fingerprint,omitempty"`
}

// defaultPath returns the identity file path under the user's
// configuration directory.
func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return filepath.Join(dir, "openlink", "identity.yaml"), nil
}

// Load reads the identity record at path (or the default location if
// path is empty), generating and persisting a new one if none exists.
func Load(path string) (*Record, error) {
	if path == "" {
		p, err := defaultPath()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		rec := &Record{MachineID: uuid.NewString()}
		if err := Save(path, rec); err != nil {
			return nil, trace.Wrap(err)
		}
		return rec, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, trace.Wrap(err, "parsing identity file %v", path)
	}
	return &rec, nil
}

// Save persists rec to path, creating parent directories as needed.
func Save(path string, rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return trace.Wrap(err)
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(os.WriteFile(path, data, 0o600))
}
