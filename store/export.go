package store

import (
	"context"
	"database/sql"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	eth2types "github.com/prysmaticlabs/eth2-types"
)

// CompleteExportRecord is one validator's full signing history, as read back
// out for Complete-format export.
type CompleteExportRecord struct {
	PubKey             phase0.BLSPubKey
	SignedBlocks       []SignedBlock
	SignedAttestations []SignedAttestation
}

// MinimalExportRecord is one validator's compacted lower bound, as read back
// out for Minimal-format export.
type MinimalExportRecord struct {
	PubKey     phase0.BLSPubKey
	LowerBound LowerBound
}

// exportValidator is a canonical (deduplicated-by-pubkey) validator row.
type exportValidator struct {
	PublicKey phase0.BLSPubKey
}

// ExportComplete reads every validator's full signed_blocks and
// signed_attestations history, ordered by public key, for Complete-format
// interchange export.
func (s *Store) ExportComplete(ctx context.Context) ([]CompleteExportRecord, error) {
	var records []CompleteExportRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		validators, err := listDistinctPublicKeys(tx)
		if err != nil {
			return err
		}
		for _, v := range validators {
			blocks, err := listSignedBlocksByPubKey(tx, v.PublicKey)
			if err != nil {
				return err
			}
			attestations, err := listSignedAttestationsByPubKey(tx, v.PublicKey)
			if err != nil {
				return err
			}
			records = append(records, CompleteExportRecord{
				PubKey:             v.PublicKey,
				SignedBlocks:       blocks,
				SignedAttestations: attestations,
			})
		}
		return nil
	})
	return records, err
}

// ExportMinimal computes, per validator, the monotonic-max of its stored
// LowerBound row(s) with the highest slot/epochs actually observed in
// signed_blocks/signed_attestations, for Minimal-format interchange export.
//
// A public key can legitimately back more than one validators row (see
// upstream issue #1544, recorded in DESIGN.md): a historical bug let the
// same key be registered twice under distinct ids. Every query here groups
// by public_key, not by id, so a duplicate row is merged away rather than
// silently dropping history filed under the "other" id.
func (s *Store) ExportMinimal(ctx context.Context) ([]MinimalExportRecord, error) {
	var records []MinimalExportRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		validators, err := listDistinctPublicKeys(tx)
		if err != nil {
			return err
		}
		for _, v := range validators {
			stored, err := storedLowerBoundByPubKey(tx, v.PublicKey)
			if err != nil {
				return err
			}
			observed, err := observedLowerBoundByPubKey(tx, v.PublicKey)
			if err != nil {
				return err
			}
			records = append(records, MinimalExportRecord{
				PubKey:     v.PublicKey,
				LowerBound: stored.Merge(observed),
			})
		}
		return nil
	})
	return records, err
}

func listDistinctPublicKeys(tx *sql.Tx) ([]exportValidator, error) {
	rows, err := tx.Query(`SELECT DISTINCT public_key FROM validators ORDER BY public_key ASC`)
	if err != nil {
		return nil, wrapStorageErr(err, "list validators")
	}
	defer rows.Close()

	var out []exportValidator
	for rows.Next() {
		var pubKey []byte
		if err := rows.Scan(&pubKey); err != nil {
			return nil, wrapStorageErr(err, "scan validator")
		}
		var v exportValidator
		copy(v.PublicKey[:], pubKey)
		out = append(out, v)
	}
	return out, wrapStorageErr(rows.Err(), "list validators")
}

func listSignedBlocksByPubKey(tx *sql.Tx, pubKey phase0.BLSPubKey) ([]SignedBlock, error) {
	rows, err := tx.Query(`
		SELECT sb.validator_id, sb.slot, sb.signing_root
		FROM signed_blocks sb
		JOIN validators v ON v.id = sb.validator_id
		WHERE v.public_key = ?
		ORDER BY sb.slot ASC`,
		pubKey[:],
	)
	if err != nil {
		return nil, wrapStorageErr(err, "list signed blocks")
	}
	defer rows.Close()

	var out []SignedBlock
	for rows.Next() {
		var b SignedBlock
		var root []byte
		if err := rows.Scan(&b.ValidatorID, &b.Slot, &root); err != nil {
			return nil, wrapStorageErr(err, "scan signed block")
		}
		copy(b.SigningRoot[:], root)
		out = append(out, b)
	}
	return out, wrapStorageErr(rows.Err(), "list signed blocks")
}

func listSignedAttestationsByPubKey(tx *sql.Tx, pubKey phase0.BLSPubKey) ([]SignedAttestation, error) {
	rows, err := tx.Query(`
		SELECT sa.validator_id, sa.source_epoch, sa.target_epoch, sa.signing_root
		FROM signed_attestations sa
		JOIN validators v ON v.id = sa.validator_id
		WHERE v.public_key = ?
		ORDER BY sa.target_epoch ASC`,
		pubKey[:],
	)
	if err != nil {
		return nil, wrapStorageErr(err, "list signed attestations")
	}
	defer rows.Close()

	var out []SignedAttestation
	for rows.Next() {
		var a SignedAttestation
		var root []byte
		if err := rows.Scan(&a.ValidatorID, &a.SourceEpoch, &a.TargetEpoch, &root); err != nil {
			return nil, wrapStorageErr(err, "scan signed attestation")
		}
		copy(a.SigningRoot[:], root)
		out = append(out, a)
	}
	return out, wrapStorageErr(rows.Err(), "list signed attestations")
}

// storedLowerBoundByPubKey merges every lower_bounds row filed under any
// validators id sharing pubKey.
func storedLowerBoundByPubKey(tx *sql.Tx, pubKey phase0.BLSPubKey) (LowerBound, error) {
	rows, err := tx.Query(`
		SELECT lb.block_proposal_slot, lb.attestation_source_epoch, lb.attestation_target_epoch
		FROM lower_bounds lb
		JOIN validators v ON v.id = lb.validator_id
		WHERE v.public_key = ?`,
		pubKey[:],
	)
	if err != nil {
		return LowerBound{}, wrapStorageErr(err, "stored lower bound")
	}
	defer rows.Close()

	var merged LowerBound
	for rows.Next() {
		var blockSlot, sourceEpoch, targetEpoch sql.NullInt64
		if err := rows.Scan(&blockSlot, &sourceEpoch, &targetEpoch); err != nil {
			return LowerBound{}, wrapStorageErr(err, "scan lower bound")
		}
		merged = merged.Merge(lowerBoundFromNulls(blockSlot, sourceEpoch, targetEpoch))
	}
	return merged, wrapStorageErr(rows.Err(), "stored lower bound")
}

func lowerBoundFromNulls(blockSlot, sourceEpoch, targetEpoch sql.NullInt64) LowerBound {
	var b LowerBound
	if blockSlot.Valid {
		s := eth2types.Slot(blockSlot.Int64)
		b.BlockProposalSlot = &s
	}
	if sourceEpoch.Valid {
		e := eth2types.Epoch(sourceEpoch.Int64)
		b.AttestationSourceEpoch = &e
	}
	if targetEpoch.Valid {
		e := eth2types.Epoch(targetEpoch.Int64)
		b.AttestationTargetEpoch = &e
	}
	return b
}

// observedLowerBoundByPubKey computes the highest slot/epochs ever signed
// under any validators id sharing pubKey, independent of any stored
// lower_bounds row.
func observedLowerBoundByPubKey(tx *sql.Tx, pubKey phase0.BLSPubKey) (LowerBound, error) {
	var bound LowerBound

	var slot sql.NullInt64
	err := tx.QueryRow(`
		SELECT MAX(sb.slot)
		FROM signed_blocks sb
		JOIN validators v ON v.id = sb.validator_id
		WHERE v.public_key = ?`,
		pubKey[:],
	).Scan(&slot)
	if err != nil && err != sql.ErrNoRows {
		return bound, wrapStorageErr(err, "observed block lower bound")
	}
	if slot.Valid {
		s := eth2types.Slot(slot.Int64)
		bound.BlockProposalSlot = &s
	}

	var source, target sql.NullInt64
	err = tx.QueryRow(`
		SELECT MAX(sa.source_epoch), MAX(sa.target_epoch)
		FROM signed_attestations sa
		JOIN validators v ON v.id = sa.validator_id
		WHERE v.public_key = ?`,
		pubKey[:],
	).Scan(&source, &target)
	if err != nil && err != sql.ErrNoRows {
		return bound, wrapStorageErr(err, "observed attestation lower bound")
	}
	if source.Valid {
		e := eth2types.Epoch(source.Int64)
		bound.AttestationSourceEpoch = &e
	}
	if target.Valid {
		e := eth2types.Epoch(target.Int64)
		bound.AttestationTargetEpoch = &e
	}
	return bound, nil
}
