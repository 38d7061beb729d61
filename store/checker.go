package store

import (
	"database/sql"
	"errors"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	eth2types "github.com/prysmaticlabs/eth2-types"
)

// resolveValidatorID looks up the internal id for pubkey, returning
// *UnregisteredValidator if it has never been registered.
func resolveValidatorID(tx *sql.Tx, pubKey phase0.BLSPubKey) (int64, error) {
	var id int64
	row := tx.QueryRow(`SELECT id FROM validators WHERE public_key = ?`, pubKey[:])
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &UnregisteredValidator{PublicKey: pubKey}
		}
		return 0, wrapStorageErr(err, "resolve validator id")
	}
	return id, nil
}

func getLowerBound(tx *sql.Tx, validatorID int64) (LowerBound, error) {
	var slot, source, target sql.NullInt64
	row := tx.QueryRow(`
		SELECT block_proposal_slot, attestation_source_epoch, attestation_target_epoch
		FROM lower_bounds WHERE validator_id = ?`, validatorID)
	if err := row.Scan(&slot, &source, &target); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LowerBound{}, nil
		}
		return LowerBound{}, wrapStorageErr(err, "get lower bound")
	}
	var lb LowerBound
	if slot.Valid {
		s := eth2types.Slot(slot.Int64)
		lb.BlockProposalSlot = &s
	}
	if source.Valid {
		s := eth2types.Epoch(source.Int64)
		lb.AttestationSourceEpoch = &s
	}
	if target.Valid {
		t := eth2types.Epoch(target.Int64)
		lb.AttestationTargetEpoch = &t
	}
	return lb, nil
}

// checkBlock implements spec.md §4.C's check_block: resolve the validator,
// check the lower bound, then look for an existing record at the same slot.
func checkBlock(tx *sql.Tx, pubKey phase0.BLSPubKey, slot eth2types.Slot, signingRoot phase0.Root) (BlockDecision, error) {
	validatorID, err := resolveValidatorID(tx, pubKey)
	if err != nil {
		return nil, err
	}

	lb, err := getLowerBound(tx, validatorID)
	if err != nil {
		return nil, err
	}
	if lb.BlockProposalSlot != nil && slot <= *lb.BlockProposalSlot {
		return nil, &SlotViolatesLowerBound{BlockSlot: slot, BoundSlot: *lb.BlockProposalSlot}
	}

	existing, found, err := findBlockAtSlot(tx, validatorID, slot)
	if err != nil {
		return nil, err
	}
	if !found {
		return BlockValid{}, nil
	}
	if existing.SigningRoot == signingRoot {
		return BlockSameData{}, nil
	}
	return nil, &DoubleBlockProposal{Existing: existing}
}

func findBlockAtSlot(tx *sql.Tx, validatorID int64, slot eth2types.Slot) (SignedBlock, bool, error) {
	var root []byte
	row := tx.QueryRow(`
		SELECT signing_root FROM signed_blocks WHERE validator_id = ? AND slot = ?`, validatorID, slot)
	if err := row.Scan(&root); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SignedBlock{}, false, nil
		}
		return SignedBlock{}, false, wrapStorageErr(err, "find block at slot")
	}
	var sb SignedBlock
	sb.ValidatorID = validatorID
	sb.Slot = slot
	copy(sb.SigningRoot[:], root)
	return sb, true, nil
}

// checkAttestation implements spec.md §4.C's check_attestation, in the
// order mandated there: source/target sanity, validator resolution, lower
// bound (source and target independently), same-target lookup,
// prev-surrounds-new, new-surrounds-prev.
func checkAttestation(
	tx *sql.Tx,
	pubKey phase0.BLSPubKey,
	source, target eth2types.Epoch,
	signingRoot phase0.Root,
) (AttestationDecision, error) {
	if source > target {
		return nil, &SourceExceedsTarget{}
	}

	validatorID, err := resolveValidatorID(tx, pubKey)
	if err != nil {
		return nil, err
	}

	lb, err := getLowerBound(tx, validatorID)
	if err != nil {
		return nil, err
	}
	if lb.AttestationSourceEpoch != nil && source < *lb.AttestationSourceEpoch {
		return nil, &SourceLessThanLowerBound{SourceEpoch: source, BoundEpoch: *lb.AttestationSourceEpoch}
	}
	if lb.AttestationTargetEpoch != nil && target <= *lb.AttestationTargetEpoch {
		return nil, &TargetLessThanOrEqLowerBound{TargetEpoch: target, BoundEpoch: *lb.AttestationTargetEpoch}
	}

	sameTarget, found, err := findAttestationAtTarget(tx, validatorID, target)
	if err != nil {
		return nil, err
	}
	if found {
		if sameTarget.SigningRoot == signingRoot {
			return AttestationSameData{}, nil
		}
		return nil, &DoubleVote{Existing: sameTarget}
	}

	prevSurrounding, found, err := findSurroundingAttestation(tx, validatorID, source, target)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, &PrevSurroundsNew{Prev: prevSurrounding}
	}

	prevSurrounded, found, err := findSurroundedAttestation(tx, validatorID, source, target)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, &NewSurroundsPrev{Prev: prevSurrounded}
	}

	return AttestationValid{}, nil
}

func findAttestationAtTarget(tx *sql.Tx, validatorID int64, target eth2types.Epoch) (SignedAttestation, bool, error) {
	var source int64
	var root []byte
	row := tx.QueryRow(`
		SELECT source_epoch, signing_root FROM signed_attestations
		WHERE validator_id = ? AND target_epoch = ?`, validatorID, target)
	if err := row.Scan(&source, &root); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SignedAttestation{}, false, nil
		}
		return SignedAttestation{}, false, wrapStorageErr(err, "find attestation at target")
	}
	sa := SignedAttestation{ValidatorID: validatorID, SourceEpoch: eth2types.Epoch(source), TargetEpoch: target}
	copy(sa.SigningRoot[:], root)
	return sa, true, nil
}

// findSurroundingAttestation finds a previously-signed attestation whose
// (source, target) interval strictly surrounds the new one, preferring the
// one with the greatest target epoch when more than one exists. The index
// on (validator_id, source_epoch, target_epoch) implied by the table's
// UNIQUE(validator_id, target_epoch) constraint plus this ORDER BY/LIMIT
// keeps the query to a single indexed scan.
func findSurroundingAttestation(tx *sql.Tx, validatorID int64, source, target eth2types.Epoch) (SignedAttestation, bool, error) {
	var gotSource, gotTarget int64
	var root []byte
	row := tx.QueryRow(`
		SELECT source_epoch, target_epoch, signing_root FROM signed_attestations
		WHERE validator_id = ? AND source_epoch < ? AND target_epoch > ?
		ORDER BY target_epoch DESC LIMIT 1`, validatorID, source, target)
	if err := row.Scan(&gotSource, &gotTarget, &root); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SignedAttestation{}, false, nil
		}
		return SignedAttestation{}, false, wrapStorageErr(err, "find surrounding attestation")
	}
	sa := SignedAttestation{ValidatorID: validatorID, SourceEpoch: eth2types.Epoch(gotSource), TargetEpoch: eth2types.Epoch(gotTarget)}
	copy(sa.SigningRoot[:], root)
	return sa, true, nil
}

// findSurroundedAttestation is the mirror of findSurroundingAttestation: it
// finds a previously-signed attestation strictly surrounded by the new one.
func findSurroundedAttestation(tx *sql.Tx, validatorID int64, source, target eth2types.Epoch) (SignedAttestation, bool, error) {
	var gotSource, gotTarget int64
	var root []byte
	row := tx.QueryRow(`
		SELECT source_epoch, target_epoch, signing_root FROM signed_attestations
		WHERE validator_id = ? AND source_epoch > ? AND target_epoch < ?
		ORDER BY target_epoch DESC LIMIT 1`, validatorID, source, target)
	if err := row.Scan(&gotSource, &gotTarget, &root); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SignedAttestation{}, false, nil
		}
		return SignedAttestation{}, false, wrapStorageErr(err, "find surrounded attestation")
	}
	sa := SignedAttestation{ValidatorID: validatorID, SourceEpoch: eth2types.Epoch(gotSource), TargetEpoch: eth2types.Epoch(gotTarget)}
	copy(sa.SigningRoot[:], root)
	return sa, true, nil
}
