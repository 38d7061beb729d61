package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slashguard.sqlite")
	st, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st
}

func pubKey(b byte) phase0.BLSPubKey {
	var k phase0.BLSPubKey
	k[0] = b
	return k
}

func root(b byte) phase0.Root {
	var r phase0.Root
	r[0] = b
	return r
}

func TestOpen_NonExistentFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.sqlite")
	st, err := Open(path)
	require.Nil(t, st)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}

func TestCreate_ExistingFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slashguard.sqlite")
	db1, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Create(path)
	require.Nil(t, db2)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}

// Due to the exclusive locking mode, opening a database file already held by
// a live *Store must fail rather than silently sharing the connection.
func TestOpen_AlreadyOpenErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slashguard.sqlite")
	db1, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db1.Close()) })

	db2, err := Open(path)
	require.Nil(t, db2)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}

// Both Open and Create must apply the same connection pragmas.
func TestConnectionSettingsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slashguard.sqlite")

	check := func(st *Store) {
		var foreignKeys int
		require.NoError(t, st.db.QueryRow(`PRAGMA foreign_keys`).Scan(&foreignKeys))
		require.Equal(t, 1, foreignKeys)

		var lockingMode string
		require.NoError(t, st.db.QueryRow(`PRAGMA locking_mode`).Scan(&lockingMode))
		require.Equal(t, "exclusive", strings.ToLower(lockingMode))
	}

	db1, err := Create(path)
	require.NoError(t, err)
	check(db1)
	require.NoError(t, db1.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	check(db2)
	require.NoError(t, db2.Close())
}

func TestStore_CheckAndInsertBlockSigningRoot_DoubleProposal(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	pk := pubKey(1)
	require.NoError(t, st.RegisterValidator(ctx, pk))

	decision, err := st.CheckAndInsertBlockSigningRoot(ctx, pk, eth2types.Slot(10), root(1))
	require.NoError(t, err)
	require.IsType(t, BlockValid{}, decision)

	// Same slot, same signing root: idempotent re-signing.
	decision, err = st.CheckAndInsertBlockSigningRoot(ctx, pk, eth2types.Slot(10), root(1))
	require.NoError(t, err)
	require.IsType(t, BlockSameData{}, decision)

	// Same slot, different signing root: double proposal.
	decision, err = st.CheckAndInsertBlockSigningRoot(ctx, pk, eth2types.Slot(10), root(2))
	require.Nil(t, decision)
	var dbl *DoubleBlockProposal
	require.ErrorAs(t, err, &dbl)
	require.Equal(t, eth2types.Slot(10), dbl.Existing.Slot)
}

func TestStore_CheckAndInsertBlockSigningRoot_LowerBound(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	pk := pubKey(1)
	require.NoError(t, st.RegisterValidator(ctx, pk))

	records := []MinimalImportRecord{{
		PubKey: pk,
		LowerBound: LowerBound{
			BlockProposalSlot: slotPtr(20),
		},
	}}
	require.NoError(t, st.ImportMinimal(ctx, records))

	_, err := st.CheckAndInsertBlockSigningRoot(ctx, pk, eth2types.Slot(20), root(1))
	var violatesBound *SlotViolatesLowerBound
	require.ErrorAs(t, err, &violatesBound)

	decision, err := st.CheckAndInsertBlockSigningRoot(ctx, pk, eth2types.Slot(21), root(1))
	require.NoError(t, err)
	require.IsType(t, BlockValid{}, decision)
}

func TestStore_CheckAndInsertAttestationSigningRoot_DoubleVote(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	pk := pubKey(1)
	require.NoError(t, st.RegisterValidator(ctx, pk))

	_, err := st.CheckAndInsertAttestationSigningRoot(ctx, pk, eth2types.Epoch(0), eth2types.Epoch(1), root(1))
	require.NoError(t, err)

	// Same target, different signing root: double vote.
	_, err = st.CheckAndInsertAttestationSigningRoot(ctx, pk, eth2types.Epoch(0), eth2types.Epoch(1), root(2))
	var dv *DoubleVote
	require.ErrorAs(t, err, &dv)

	// Same target, same signing root: safe re-sign.
	decision, err := st.CheckAndInsertAttestationSigningRoot(ctx, pk, eth2types.Epoch(0), eth2types.Epoch(1), root(1))
	require.NoError(t, err)
	require.IsType(t, AttestationSameData{}, decision)
}

func TestStore_CheckAndInsertAttestationSigningRoot_SurroundVotes(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	pk := pubKey(1)
	require.NoError(t, st.RegisterValidator(ctx, pk))

	// Existing vote: source 2, target 5.
	_, err := st.CheckAndInsertAttestationSigningRoot(ctx, pk, eth2types.Epoch(2), eth2types.Epoch(5), root(1))
	require.NoError(t, err)

	// New vote [1, 6] surrounds the existing [2, 5].
	_, err = st.CheckAndInsertAttestationSigningRoot(ctx, pk, eth2types.Epoch(1), eth2types.Epoch(6), root(2))
	var newSurrounds *NewSurroundsPrev
	require.ErrorAs(t, err, &newSurrounds)

	// New vote [3, 4] is surrounded by the existing [2, 5].
	_, err = st.CheckAndInsertAttestationSigningRoot(ctx, pk, eth2types.Epoch(3), eth2types.Epoch(4), root(3))
	var prevSurrounds *PrevSurroundsNew
	require.ErrorAs(t, err, &prevSurrounds)

	// A disjoint vote [6, 7] is safe.
	decision, err := st.CheckAndInsertAttestationSigningRoot(ctx, pk, eth2types.Epoch(6), eth2types.Epoch(7), root(4))
	require.NoError(t, err)
	require.IsType(t, AttestationValid{}, decision)
}

func TestStore_CheckAndInsertAttestationSigningRoot_SourceExceedsTarget(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	pk := pubKey(1)
	require.NoError(t, st.RegisterValidator(ctx, pk))

	_, err := st.CheckAndInsertAttestationSigningRoot(ctx, pk, eth2types.Epoch(5), eth2types.Epoch(4), root(1))
	var exceeds *SourceExceedsTarget
	require.ErrorAs(t, err, &exceeds)
}

func TestStore_CheckAndInsertAttestationSigningRoot_UnregisteredValidator(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	_, err := st.CheckAndInsertAttestationSigningRoot(ctx, pubKey(9), eth2types.Epoch(0), eth2types.Epoch(1), root(1))
	var unreg *UnregisteredValidator
	require.ErrorAs(t, err, &unreg)
}

func TestStore_ImportMinimal_MergesMonotonically(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	pk := pubKey(1)

	require.NoError(t, st.ImportMinimal(ctx, []MinimalImportRecord{{
		PubKey:     pk,
		LowerBound: LowerBound{BlockProposalSlot: slotPtr(10)},
	}}))
	require.NoError(t, st.ImportMinimal(ctx, []MinimalImportRecord{{
		PubKey: pk,
		LowerBound: LowerBound{
			BlockProposalSlot:      slotPtr(5),
			AttestationSourceEpoch: epochPtr(3),
		},
	}}))

	exported, err := st.ExportMinimal(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	require.Equal(t, eth2types.Slot(10), *exported[0].LowerBound.BlockProposalSlot)
	require.Equal(t, eth2types.Epoch(3), *exported[0].LowerBound.AttestationSourceEpoch)
}

func slotPtr(s eth2types.Slot) *eth2types.Slot    { return &s }
func epochPtr(e eth2types.Epoch) *eth2types.Epoch { return &e }
