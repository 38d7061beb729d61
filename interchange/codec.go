package interchange

import (
	"context"
	"encoding/json"
	"io"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	pkgerrors "github.com/pkg/errors"

	"github.com/sigilhold/slashguard/store"
)

// Import decodes an interchange document from r and merges its history into
// st, never permitting the merge to relax any safety guarantee st already
// holds. genesisValidatorsRoot is the chain value the caller expects the
// document to have been produced against.
func Import(ctx context.Context, st *store.Store, genesisValidatorsRoot phase0.Root, r io.Reader) error {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return pkgerrors.Wrap(err, "decode interchange document")
	}
	if doc.Metadata.Version != SupportedVersion {
		return &UnsupportedVersion{Got: doc.Metadata.Version}
	}
	if doc.Metadata.GenesisValidatorsRoot.phase0() != genesisValidatorsRoot {
		return &GenesisValidatorsMismatch{
			Client:          genesisValidatorsRoot,
			InterchangeFile: doc.Metadata.GenesisValidatorsRoot.phase0(),
		}
	}
	switch doc.Metadata.Format {
	case FormatMinimal:
		return importMinimal(ctx, st, doc.Minimal)
	case FormatComplete:
		return importComplete(ctx, st, doc.Complete)
	default:
		return pkgerrors.Errorf("unknown interchange format %q", doc.Metadata.Format)
	}
}

// importMinimal registers every validator and widens its lower bound in one
// transaction, giving the whole document atomic all-or-nothing semantics.
func importMinimal(ctx context.Context, st *store.Store, data []MinimalValidatorData) error {
	records := make([]store.MinimalImportRecord, len(data))
	for i, d := range data {
		if (d.LastSignedAttestationSourceEpoch == nil) != (d.LastSignedAttestationTargetEpoch == nil) {
			return &MinimalAttestationSourceAndTargetInconsistent{PubKey: d.PubKey.phase0()}
		}
		records[i] = store.MinimalImportRecord{
			PubKey: d.PubKey.phase0(),
			LowerBound: store.LowerBound{
				BlockProposalSlot:      d.LastSignedBlockSlot,
				AttestationSourceEpoch: d.LastSignedAttestationSourceEpoch,
				AttestationTargetEpoch: d.LastSignedAttestationTargetEpoch,
			},
		}
	}
	return st.ImportMinimal(ctx, records)
}

// importComplete replays each validator's full signing history through the
// ordinary check-and-insert path, one record at a time. Each record is
// atomic on its own (CheckAndInsertBlockSigningRoot/
// CheckAndInsertAttestationSigningRoot each run in their own transaction),
// but the import as a whole is not: a SafetyError partway through a large
// document leaves the records already applied in place. The reference
// implementation this is grounded on carries the same limitation verbatim
// (a TODO in slashing_database.rs notes it would be nice to make the whole
// operation atomic); making it so would require a storage engine that lets
// a single transaction span an unbounded number of statements gathered from
// caller-controlled input, which SQLite's single-writer model does not rule
// out but which this codec does not attempt.
func importComplete(ctx context.Context, st *store.Store, data []CompleteValidatorData) error {
	for _, v := range data {
		pubKey := v.PubKey.phase0()
		if err := st.RegisterValidator(ctx, pubKey); err != nil {
			return err
		}
		for _, b := range v.SignedBlocks {
			signingRoot := rootFromJSONPtr(b.SigningRoot)
			if _, err := st.CheckAndInsertBlockSigningRoot(ctx, pubKey, b.Slot, signingRoot); err != nil {
				return err
			}
		}
		for _, a := range v.SignedAttestations {
			signingRoot := rootFromJSONPtr(a.SigningRoot)
			if _, err := st.CheckAndInsertAttestationSigningRoot(ctx, pubKey, a.SourceEpoch, a.TargetEpoch, signingRoot); err != nil {
				return err
			}
		}
	}
	return nil
}

// Export reads st's full contents back out as an interchange document.
// Format is chosen the way the reference implementation chooses it: Minimal
// if any validator has a stored lower bound (the store has been compacted),
// Complete otherwise.
func Export(ctx context.Context, st *store.Store, genesisValidatorsRoot phase0.Root) (*Document, error) {
	numLowerBounds, err := st.NumLowerBoundRows(ctx)
	if err != nil {
		return nil, err
	}
	metadata := Metadata{
		Version:               SupportedVersion,
		GenesisValidatorsRoot: jsonRoot(genesisValidatorsRoot),
	}
	if numLowerBounds > 0 {
		return exportMinimal(ctx, st, metadata)
	}
	return exportComplete(ctx, st, metadata)
}

func exportComplete(ctx context.Context, st *store.Store, metadata Metadata) (*Document, error) {
	metadata.Format = FormatComplete
	records, err := st.ExportComplete(ctx)
	if err != nil {
		return nil, err
	}
	data := make([]CompleteValidatorData, len(records))
	for i, r := range records {
		blocks := make([]SignedBlockRecord, len(r.SignedBlocks))
		for j, b := range r.SignedBlocks {
			root := jsonRoot(b.SigningRoot)
			blocks[j] = SignedBlockRecord{Slot: b.Slot, SigningRoot: &root}
		}
		attestations := make([]SignedAttestationRecord, len(r.SignedAttestations))
		for j, a := range r.SignedAttestations {
			root := jsonRoot(a.SigningRoot)
			attestations[j] = SignedAttestationRecord{
				SourceEpoch: a.SourceEpoch,
				TargetEpoch: a.TargetEpoch,
				SigningRoot: &root,
			}
		}
		data[i] = CompleteValidatorData{
			PubKey:             jsonPubKey(r.PubKey),
			SignedBlocks:       blocks,
			SignedAttestations: attestations,
		}
	}
	return &Document{Metadata: metadata, Complete: data}, nil
}

func exportMinimal(ctx context.Context, st *store.Store, metadata Metadata) (*Document, error) {
	metadata.Format = FormatMinimal
	records, err := st.ExportMinimal(ctx)
	if err != nil {
		return nil, err
	}
	data := make([]MinimalValidatorData, len(records))
	for i, r := range records {
		data[i] = MinimalValidatorData{
			PubKey:                           jsonPubKey(r.PubKey),
			LastSignedBlockSlot:              r.LowerBound.BlockProposalSlot,
			LastSignedAttestationSourceEpoch: r.LowerBound.AttestationSourceEpoch,
			LastSignedAttestationTargetEpoch: r.LowerBound.AttestationTargetEpoch,
		}
	}
	return &Document{Metadata: metadata, Minimal: data}, nil
}
