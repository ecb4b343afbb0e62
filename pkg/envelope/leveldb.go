package envelope

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes.
const (
	envelopePrefix = "env/"
	versionPrefix  = "ver/"
)

// LevelStore keeps envelopes in a LevelDB database keyed by transaction hash
// (0x-hex). Each key carries a counter that Save compares and increments
// inside one LevelDB transaction.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) the database at dir.
func OpenLevelStore(dir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open envelope database %s", dir)
	}
	return &LevelStore{db: db}, nil
}

// Close closes the database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

// Ref is the key an envelope is stored under.
func Ref(env *Envelope) string {
	return env.Hash().String()
}

func (s *LevelStore) normalize(ref string) string {
	return strings.ToLower(ref)
}

// Load implements Store.
func (s *LevelStore) Load(ctx context.Context, ref string) (*Envelope, Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, NoVersion, err
	}
	ref = s.normalize(ref)

	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, NoVersion, errors.Wrap(err, "snapshot")
	}
	defer snap.Release()

	data, err := snap.Get([]byte(envelopePrefix+ref), nil)
	if err == leveldb.ErrNotFound {
		return nil, NoVersion, errors.Wrap(ErrNotFound, ref)
	}
	if err != nil {
		return nil, NoVersion, errors.Wrapf(err, "read %s", ref)
	}
	version, err := snap.Get([]byte(versionPrefix+ref), nil)
	if err != nil {
		return nil, NoVersion, errors.Wrapf(err, "read version of %s", ref)
	}

	env, err := Unmarshal(data)
	if err != nil {
		return nil, NoVersion, errors.Wrapf(err, "load %s", ref)
	}
	return env, Version(version), nil
}

// Save implements Store. When the transaction hash no longer equals ref
// (the transaction was edited) the envelope moves to its new hash, which
// must be unused.
func (s *LevelStore) Save(ctx context.Context, ref string, env *Envelope, expected Version) (string, Version, error) {
	if err := ctx.Err(); err != nil {
		return ref, NoVersion, err
	}
	data, err := env.Marshal()
	if err != nil {
		return ref, NoVersion, errors.Wrap(err, "encode envelope")
	}
	newRef := Ref(env)
	if ref == "" {
		ref = newRef
	}
	ref = s.normalize(ref)

	tx, err := s.db.OpenTransaction()
	if err != nil {
		return ref, NoVersion, errors.Wrap(err, "begin transaction")
	}
	defer tx.Discard()

	actual, counter, err := readVersion(tx, ref)
	if err != nil {
		return ref, NoVersion, err
	}
	if expected != AnyVersion && actual != expected {
		return ref, NoVersion, conflict(ref, expected, actual)
	}

	if newRef != ref {
		existing, _, err := readVersion(tx, newRef)
		if err != nil {
			return ref, NoVersion, err
		}
		if existing != NoVersion {
			return ref, NoVersion, conflict(newRef, NoVersion, existing)
		}
		if err := tx.Delete([]byte(envelopePrefix+ref), nil); err != nil {
			return ref, NoVersion, errors.Wrap(err, "delete old envelope")
		}
		if err := tx.Delete([]byte(versionPrefix+ref), nil); err != nil {
			return ref, NoVersion, errors.Wrap(err, "delete old version")
		}
	}

	next := Version(strconv.FormatUint(counter+1, 10))
	if err := tx.Put([]byte(envelopePrefix+newRef), data, nil); err != nil {
		return ref, NoVersion, errors.Wrap(err, "write envelope")
	}
	if err := tx.Put([]byte(versionPrefix+newRef), []byte(next), nil); err != nil {
		return ref, NoVersion, errors.Wrap(err, "write version")
	}
	if err := tx.Commit(); err != nil {
		return ref, NoVersion, errors.Wrap(err, "commit")
	}
	return newRef, next, nil
}

// List returns the refs of all stored envelopes.
func (s *LevelStore) List(ctx context.Context) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(envelopePrefix)), nil)
	defer iter.Release()

	var refs []string
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		refs = append(refs, strings.TrimPrefix(string(iter.Key()), envelopePrefix))
	}
	return refs, errors.Wrap(iter.Error(), "iterate envelopes")
}

func readVersion(tx *leveldb.Transaction, ref string) (Version, uint64, error) {
	raw, err := tx.Get([]byte(versionPrefix+ref), nil)
	if err == leveldb.ErrNotFound {
		return NoVersion, 0, nil
	}
	if err != nil {
		return NoVersion, 0, errors.Wrapf(err, "read version of %s", ref)
	}
	counter, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return NoVersion, 0, errors.Wrapf(err, "corrupt version of %s", ref)
	}
	return Version(raw), counter, nil
}
