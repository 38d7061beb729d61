package interchange

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"

	"github.com/sigilhold/slashguard/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slashguard.sqlite")
	st, err := store.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st
}

func TestImportExport_CompleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	genesisRoot := phase0.Root{0xaa}

	var pk jsonPubKey
	pk[0] = 0x01
	signingRoot := jsonRoot{0x02}

	doc := &Document{
		Metadata: Metadata{
			Format:                FormatComplete,
			Version:               SupportedVersion,
			GenesisValidatorsRoot: jsonRoot(genesisRoot),
		},
		Complete: []CompleteValidatorData{{
			PubKey: pk,
			SignedBlocks: []SignedBlockRecord{
				{Slot: eth2types.Slot(1), SigningRoot: &signingRoot},
			},
			SignedAttestations: []SignedAttestationRecord{
				{SourceEpoch: eth2types.Epoch(0), TargetEpoch: eth2types.Epoch(1), SigningRoot: &signingRoot},
			},
		}},
	}
	raw, err := doc.MarshalJSON()
	require.NoError(t, err)

	require.NoError(t, Import(ctx, st, genesisRoot, bytes.NewReader(raw)))

	exported, err := Export(ctx, st, genesisRoot)
	require.NoError(t, err)
	require.Equal(t, FormatComplete, exported.Metadata.Format)
	require.Len(t, exported.Complete, 1)
	require.Equal(t, pk, exported.Complete[0].PubKey)
	require.Len(t, exported.Complete[0].SignedBlocks, 1)
	require.Equal(t, eth2types.Slot(1), exported.Complete[0].SignedBlocks[0].Slot)
}

func TestImportExport_MinimalRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	genesisRoot := phase0.Root{0xbb}

	var pk jsonPubKey
	pk[0] = 0x02
	slot := eth2types.Slot(100)
	source := eth2types.Epoch(5)
	target := eth2types.Epoch(6)

	doc := &Document{
		Metadata: Metadata{
			Format:                FormatMinimal,
			Version:               SupportedVersion,
			GenesisValidatorsRoot: jsonRoot(genesisRoot),
		},
		Minimal: []MinimalValidatorData{{
			PubKey:                           pk,
			LastSignedBlockSlot:              &slot,
			LastSignedAttestationSourceEpoch: &source,
			LastSignedAttestationTargetEpoch: &target,
		}},
	}
	raw, err := doc.MarshalJSON()
	require.NoError(t, err)

	require.NoError(t, Import(ctx, st, genesisRoot, bytes.NewReader(raw)))

	exported, err := Export(ctx, st, genesisRoot)
	require.NoError(t, err)
	require.Equal(t, FormatMinimal, exported.Metadata.Format)
	require.Len(t, exported.Minimal, 1)
	require.Equal(t, slot, *exported.Minimal[0].LastSignedBlockSlot)
	require.Equal(t, source, *exported.Minimal[0].LastSignedAttestationSourceEpoch)
	require.Equal(t, target, *exported.Minimal[0].LastSignedAttestationTargetEpoch)
}

func TestImport_RejectsUnsupportedVersion(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	genesisRoot := phase0.Root{0xcc}

	doc := &Document{
		Metadata: Metadata{
			Format:                FormatMinimal,
			Version:               SupportedVersion + 1,
			GenesisValidatorsRoot: jsonRoot(genesisRoot),
		},
	}
	raw, err := doc.MarshalJSON()
	require.NoError(t, err)

	err = Import(ctx, st, genesisRoot, bytes.NewReader(raw))
	var unsupported *UnsupportedVersion
	require.ErrorAs(t, err, &unsupported)
}

func TestImport_RejectsGenesisValidatorsMismatch(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	fileRoot := phase0.Root{0x01}
	clientRoot := phase0.Root{0x02}

	doc := &Document{
		Metadata: Metadata{
			Format:                FormatMinimal,
			Version:               SupportedVersion,
			GenesisValidatorsRoot: jsonRoot(fileRoot),
		},
	}
	raw, err := doc.MarshalJSON()
	require.NoError(t, err)

	err = Import(ctx, st, clientRoot, bytes.NewReader(raw))
	var mismatch *GenesisValidatorsMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestImport_RejectsInconsistentMinimalSourceTarget(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	genesisRoot := phase0.Root{0xdd}

	var pk jsonPubKey
	pk[0] = 0x03
	source := eth2types.Epoch(1)

	doc := &Document{
		Metadata: Metadata{
			Format:                FormatMinimal,
			Version:               SupportedVersion,
			GenesisValidatorsRoot: jsonRoot(genesisRoot),
		},
		Minimal: []MinimalValidatorData{{
			PubKey:                           pk,
			LastSignedAttestationSourceEpoch: &source,
			LastSignedAttestationTargetEpoch: nil,
		}},
	}
	raw, err := doc.MarshalJSON()
	require.NoError(t, err)

	err = Import(ctx, st, genesisRoot, bytes.NewReader(raw))
	var inconsistent *MinimalAttestationSourceAndTargetInconsistent
	require.ErrorAs(t, err, &inconsistent)
}

func TestExport_EmptyStoreIsComplete(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	genesisRoot := phase0.Root{0xee}

	exported, err := Export(ctx, st, genesisRoot)
	require.NoError(t, err)
	require.Equal(t, FormatComplete, exported.Metadata.Format)
	require.Empty(t, exported.Complete)
}
