// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package artifact stores the trained model blob on a shared filesystem.
//
// Blobs are replaced atomically: they are written to a temporary file in the
// destination directory and renamed into place, so readers never observe a
// partial artifact. Each blob is accompanied by a "<path>.sha256" sidecar
// holding its digest, which readers verify.
package artifact

import (
	_ "crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var (
	// ErrNotFound means no artifact exists at the requested path.
	ErrNotFound = errors.New("artifact not found")
	// ErrDigestMismatch means the blob does not match its sidecar digest.
	ErrDigestMismatch = errors.New("artifact digest mismatch")
)

// DigestSuffix is appended to an artifact path to name its sidecar.
const DigestSuffix = ".sha256"

// Blob is an artifact read back from the store.
type Blob struct {
	Data   []byte
	Digest digest.Digest
	// Verified is false when no sidecar was present to check against.
	Verified bool
}

// Store reads and writes artifacts on an afero filesystem.
type Store struct {
	fs afero.Fs
}

// NewStore returns a Store over fs.
func NewStore(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOSStore returns a Store over the local filesystem.
func NewOSStore() *Store {
	return NewStore(afero.NewOsFs())
}

// Write atomically replaces the blob at path and then its digest sidecar.
// The old sidecar is dropped first so a partial write leaves an unverified
// blob rather than one that disagrees with its digest.
func (s *Store) Write(path string, data []byte) (digest.Digest, error) {
	if err := s.fs.Remove(path + DigestSuffix); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "failed to remove stale digest for %s", path)
	}
	if err := s.writeAtomic(path, data); err != nil {
		return "", err
	}
	d := digest.Canonical.FromBytes(data)
	if err := s.writeAtomic(path+DigestSuffix, []byte(d.String()+"\n")); err != nil {
		return "", errors.Wrapf(err, "failed to write digest for %s", path)
	}
	return d, nil
}

// WriteJSON atomically writes v as indented JSON. No sidecar is written.
func (s *Store) WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return s.writeAtomic(path, append(data, '\n'))
}

func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file in %s", dir)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to close %s", tmpName)
	}
	if err := s.fs.Chmod(tmpName, 0o644); err != nil {
		s.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to set mode on %s", tmpName)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to move artifact into place at %s", path)
	}
	return nil
}

// Read returns the blob at path. When a sidecar exists the blob is verified
// against it and ErrDigestMismatch is returned on disagreement.
func (s *Store) Read(path string) (Blob, error) {
	data, err := afero.ReadFile(s.fs, path)
	if os.IsNotExist(err) {
		return Blob{}, errors.Wrapf(ErrNotFound, "no artifact at %s", path)
	}
	if err != nil {
		return Blob{}, errors.Wrapf(err, "failed to read artifact %s", path)
	}

	want, err := s.Digest(path)
	if errors.Cause(err) == ErrNotFound {
		return Blob{Data: data, Digest: digest.Canonical.FromBytes(data)}, nil
	}
	if err != nil {
		return Blob{}, err
	}

	verifier := want.Verifier()
	if _, err := verifier.Write(data); err != nil {
		return Blob{}, errors.Wrap(err, "failed to hash artifact")
	}
	if !verifier.Verified() {
		return Blob{}, errors.Wrapf(ErrDigestMismatch, "%s does not match %s", path, want)
	}
	return Blob{Data: data, Digest: want, Verified: true}, nil
}

// Digest returns the digest recorded in the sidecar for path.
func (s *Store) Digest(path string) (digest.Digest, error) {
	raw, err := afero.ReadFile(s.fs, path+DigestSuffix)
	if os.IsNotExist(err) {
		return "", errors.Wrapf(ErrNotFound, "no digest for %s", path)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read digest for %s", path)
	}
	d, err := digest.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		return "", errors.Wrapf(err, "malformed digest sidecar for %s", path)
	}
	return d, nil
}

// Remove deletes the blob and its sidecar. Missing files are ignored.
func (s *Store) Remove(path string) error {
	for _, p := range []string{path, path + DigestSuffix} {
		if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", p)
		}
	}
	return nil
}
