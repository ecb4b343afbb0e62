package envelope

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
)

// Version identifies the stored state an envelope was loaded from.
type Version string

const (
	// NoVersion expects the envelope not to exist yet.
	NoVersion Version = ""
	// AnyVersion skips the concurrency check.
	AnyVersion Version = "*"
)

// ErrNotFound is returned by Load for a missing envelope.
var ErrNotFound = errors.New("envelope not found")

// Store persists envelopes with optimistic concurrency: Save succeeds only
// if the stored version still equals expected, otherwise it fails with an
// omnilock Conflict error and stores nothing.
type Store interface {
	// Load returns the envelope stored under ref and its version.
	Load(ctx context.Context, ref string) (*Envelope, Version, error)
	// Save stores env and returns the ref it is now stored under together
	// with the new version. Stores keyed by transaction hash move the
	// envelope when the hash changed.
	Save(ctx context.Context, ref string, env *Envelope, expected Version) (string, Version, error)
}

func conflict(ref string, expected, actual Version) error {
	return omnilock.NewError(omnilock.CodeConflict, nil,
		"%s was modified concurrently (expected version %q, found %q)", ref, expected, actual)
}

// FileStore keeps one envelope per JSON file; ref is the file path. The
// version is the blake2b digest of the file contents.
type FileStore struct{}

// NewFileStore creates a file store.
func NewFileStore() *FileStore {
	return &FileStore{}
}

func fileVersion(data []byte) Version {
	h := ckb.Blake256(data)
	return Version(hex.EncodeToString(h[:]))
}

func (s *FileStore) current(path string) (Version, []byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NoVersion, nil, nil
	}
	if err != nil {
		return NoVersion, nil, errors.Wrapf(err, "read %s", path)
	}
	return fileVersion(data), data, nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, path string) (*Envelope, Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, NoVersion, err
	}
	version, data, err := s.current(path)
	if err != nil {
		return nil, NoVersion, err
	}
	if data == nil {
		return nil, NoVersion, errors.Wrap(ErrNotFound, path)
	}
	env, err := Unmarshal(data)
	if err != nil {
		return nil, NoVersion, errors.Wrapf(err, "load %s", path)
	}
	return env, version, nil
}

// Save implements Store. The file is replaced atomically through a rename;
// a sibling .lock file serializes writers on the same path.
func (s *FileStore) Save(ctx context.Context, path string, env *Envelope, expected Version) (string, Version, error) {
	if err := ctx.Err(); err != nil {
		return path, NoVersion, err
	}
	data, err := env.Marshal()
	if err != nil {
		return path, NoVersion, errors.Wrap(err, "encode envelope")
	}

	lockPath := path + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if os.IsExist(err) {
		return path, NoVersion, omnilock.NewError(omnilock.CodeConflict, nil, "%s is being written by another process", path)
	}
	if err != nil {
		return path, NoVersion, errors.Wrapf(err, "lock %s", path)
	}
	defer func() {
		lock.Close()
		os.Remove(lockPath)
	}()

	if expected != AnyVersion {
		actual, _, err := s.current(path)
		if err != nil {
			return path, NoVersion, err
		}
		if actual != expected {
			return path, NoVersion, conflict(path, expected, actual)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return path, NoVersion, errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return path, NoVersion, errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return path, NoVersion, errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return path, NoVersion, errors.Wrapf(err, "replace %s", path)
	}
	return path, fileVersion(data), nil
}
