package envelope

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
)

func testEnvelope(t *testing.T) *Envelope {
	t.Helper()
	m, err := omnilock.NewMultisigConfig([][20]byte{{1}, {2}, {3}}, 0, 2)
	require.NoError(t, err)
	cfg, err := omnilock.NewMultisigScheme(m)
	require.NoError(t, err)

	lock := cfg.LockScript(ckb.Hash{0xee})
	tx := &ckb.Transaction{
		CellDeps: []ckb.CellDep{{OutPoint: ckb.OutPoint{TxHash: ckb.Hash{0x01}}, DepType: ckb.DepTypeCode}},
		Inputs:   []ckb.CellInput{{PreviousOutput: ckb.OutPoint{TxHash: ckb.Hash{0xaa}, Index: 1}}},
		Outputs: []ckb.CellOutput{
			{Capacity: 100 * ckb.ShannonsPerCKB, Lock: ckb.Script{CodeHash: ckb.SighashTypeHash, HashType: ckb.HashTypeType, Args: make([]byte, 20)}},
			{Capacity: 200 * ckb.ShannonsPerCKB, Lock: lock},
		},
		OutputsData: [][]byte{{}, {}},
		Witnesses:   [][]byte{omnilock.PlaceholderWitness(cfg)},
	}
	env, err := New(tx, cfg)
	require.NoError(t, err)
	return env
}

func fillSlot(t *testing.T, env *Envelope, slot int, b byte) {
	t.Helper()
	lock, err := env.LockAt(0)
	require.NoError(t, err)
	wl, err := omnilock.DecodeWitnessLock(env.Config, lock)
	require.NoError(t, err)
	for i := range wl.Slots[slot] {
		wl.Slots[slot][i] = b
	}
	env.Transaction.Witnesses[0] = (&ckb.WitnessArgs{Lock: wl.Encode()}).Serialize()
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	env := testEnvelope(t)
	fillSlot(t, env, 1, 0x42)

	data, err := env.Marshal()
	require.NoError(t, err)
	back, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, env.Transaction.Witnesses, back.Transaction.Witnesses)
	assert.Equal(t, ckb.SerializeTransaction(env.Transaction), ckb.SerializeTransaction(back.Transaction))
	assert.True(t, env.Config.Equal(back.Config))

	again, err := back.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestUnmarshalRejects(t *testing.T) {
	_, err := Unmarshal([]byte(`{"omnilock_config": null}`))
	assert.Error(t, err)
	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)

	env := testEnvelope(t)
	data, err := env.Marshal()
	require.NoError(t, err)
	_, err = Unmarshal(data[:len(data)/2])
	assert.Error(t, err)
}

func TestHasSignature(t *testing.T) {
	env := testEnvelope(t)
	assert.False(t, env.HasSignature())

	fillSlot(t, env, 2, 0x01)
	assert.True(t, env.HasSignature())
}

func TestLockAt(t *testing.T) {
	env := testEnvelope(t)
	lock, err := env.LockAt(0)
	require.NoError(t, err)
	assert.Equal(t, omnilock.Placeholder(env.Config), lock)

	_, err = env.LockAt(1)
	assert.Error(t, err)

	env.Transaction.Witnesses = append(env.Transaction.Witnesses, []byte{})
	lock, err = env.LockAt(1)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestFileStoreOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.json")
	store := NewFileStore()

	_, _, err := store.Load(ctx, path)
	assert.True(t, errors.Is(err, ErrNotFound))

	env := testEnvelope(t)
	_, v0, err := store.Save(ctx, path, env, NoVersion)
	require.NoError(t, err)

	// creating twice conflicts
	_, _, err = store.Save(ctx, path, env, NoVersion)
	assert.True(t, errors.Is(err, omnilock.ErrConflict))

	// two signers read the same snapshot
	a, va, err := store.Load(ctx, path)
	require.NoError(t, err)
	b, vb, err := store.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, v0, va)
	assert.Equal(t, va, vb)

	fillSlot(t, a, 0, 0x0a)
	_, v1, err := store.Save(ctx, path, a, va)
	require.NoError(t, err)
	assert.NotEqual(t, v0, v1)

	fillSlot(t, b, 2, 0x0b)
	_, _, err = store.Save(ctx, path, b, vb)
	assert.True(t, errors.Is(err, omnilock.ErrConflict), "stale write must be rejected")

	// the first signer's slot survived
	stored, v, err := store.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, v1, v)
	assert.Equal(t, a.Transaction.Witnesses, stored.Transaction.Witnesses)

	// no temp or lock files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreLockedByOtherWriter(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.json")
	require.NoError(t, os.WriteFile(path+".lock", nil, 0o600))

	_, _, err := NewFileStore().Save(ctx, path, testEnvelope(t), AnyVersion)
	assert.True(t, errors.Is(err, omnilock.ErrConflict))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "tx.json")

	_, _, err := NewFileStore().Save(ctx, path, testEnvelope(t), AnyVersion)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLevelStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenLevelStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer store.Close()

	env := testEnvelope(t)
	ref, v1, err := store.Save(ctx, "", env, NoVersion)
	require.NoError(t, err)
	assert.Equal(t, Ref(env), ref)
	assert.Equal(t, Version("1"), v1)

	_, _, err = store.Load(ctx, "0x00")
	assert.True(t, errors.Is(err, ErrNotFound))

	a, va, err := store.Load(ctx, ref)
	require.NoError(t, err)
	b, vb, err := store.Load(ctx, ref)
	require.NoError(t, err)

	fillSlot(t, a, 0, 0x0a)
	refA, v2, err := store.Save(ctx, ref, a, va)
	require.NoError(t, err)
	assert.Equal(t, ref, refA, "signing keeps the transaction hash")
	assert.Equal(t, Version("2"), v2)

	fillSlot(t, b, 2, 0x0b)
	_, _, err = store.Save(ctx, ref, b, vb)
	assert.True(t, errors.Is(err, omnilock.ErrConflict))

	refs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ref}, refs)
}

func TestLevelStoreRekeysEditedTransaction(t *testing.T) {
	ctx := context.Background()
	store, err := OpenLevelStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer store.Close()

	env := testEnvelope(t)
	ref, v1, err := store.Save(ctx, "", env, NoVersion)
	require.NoError(t, err)

	env.Transaction.Outputs[0].Capacity++
	newRef, v2, err := store.Save(ctx, ref, env, v1)
	require.NoError(t, err)
	assert.NotEqual(t, ref, newRef)
	assert.Equal(t, Version("2"), v2)

	_, _, err = store.Load(ctx, ref)
	assert.True(t, errors.Is(err, ErrNotFound))
	loaded, v, err := store.Load(ctx, newRef)
	require.NoError(t, err)
	assert.Equal(t, v2, v)
	assert.Equal(t, env.Hash(), loaded.Hash())
}
