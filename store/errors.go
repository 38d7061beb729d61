package store

import (
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/pkg/errors"
)

// SafetyError is returned whenever signing a message would be unsafe. It is
// never a storage failure: the store successfully determined the answer was
// "don't sign". Callers must pattern-match on the concrete type, never on
// the error string.
type SafetyError interface {
	error
	isSafetyError()
}

// UnregisteredValidator is returned when a pubkey has never been registered.
type UnregisteredValidator struct {
	PublicKey phase0.BLSPubKey
}

func (e *UnregisteredValidator) Error() string {
	return fmt.Sprintf("unregistered validator: %#x", e.PublicKey)
}
func (*UnregisteredValidator) isSafetyError() {}

// SlotViolatesLowerBound is InvalidBlock::SlotViolatesLowerBound.
type SlotViolatesLowerBound struct {
	BlockSlot eth2types.Slot
	BoundSlot eth2types.Slot
}

func (e *SlotViolatesLowerBound) Error() string {
	return fmt.Sprintf("block slot %d is not greater than the lower bound %d", e.BlockSlot, e.BoundSlot)
}
func (*SlotViolatesLowerBound) isSafetyError() {}

// DoubleBlockProposal is InvalidBlock::DoubleBlockProposal.
type DoubleBlockProposal struct {
	Existing SignedBlock
}

func (e *DoubleBlockProposal) Error() string {
	return fmt.Sprintf("double block proposal at slot %d, existing signing root %#x", e.Existing.Slot, e.Existing.SigningRoot)
}
func (*DoubleBlockProposal) isSafetyError() {}

// SourceExceedsTarget is InvalidAttestation::SourceExceedsTarget.
type SourceExceedsTarget struct{}

func (e *SourceExceedsTarget) Error() string { return "attestation source epoch exceeds target epoch" }
func (*SourceExceedsTarget) isSafetyError()  {}

// SourceLessThanLowerBound is InvalidAttestation::SourceLessThanLowerBound.
type SourceLessThanLowerBound struct {
	SourceEpoch eth2types.Epoch
	BoundEpoch  eth2types.Epoch
}

func (e *SourceLessThanLowerBound) Error() string {
	return fmt.Sprintf("attestation source epoch %d is less than the lower bound %d", e.SourceEpoch, e.BoundEpoch)
}
func (*SourceLessThanLowerBound) isSafetyError() {}

// TargetLessThanOrEqLowerBound is InvalidAttestation::TargetLessThanOrEqLowerBound.
type TargetLessThanOrEqLowerBound struct {
	TargetEpoch eth2types.Epoch
	BoundEpoch  eth2types.Epoch
}

func (e *TargetLessThanOrEqLowerBound) Error() string {
	return fmt.Sprintf("attestation target epoch %d is not greater than the lower bound %d", e.TargetEpoch, e.BoundEpoch)
}
func (*TargetLessThanOrEqLowerBound) isSafetyError() {}

// DoubleVote is InvalidAttestation::DoubleVote.
type DoubleVote struct {
	Existing SignedAttestation
}

func (e *DoubleVote) Error() string {
	return fmt.Sprintf("double vote at target epoch %d, existing signing root %#x", e.Existing.TargetEpoch, e.Existing.SigningRoot)
}
func (*DoubleVote) isSafetyError() {}

// PrevSurroundsNew is InvalidAttestation::PrevSurroundsNew.
type PrevSurroundsNew struct {
	Prev SignedAttestation
}

func (e *PrevSurroundsNew) Error() string {
	return fmt.Sprintf("previous attestation (%d -> %d) surrounds the new one", e.Prev.SourceEpoch, e.Prev.TargetEpoch)
}
func (*PrevSurroundsNew) isSafetyError() {}

// NewSurroundsPrev is InvalidAttestation::NewSurroundsPrev.
type NewSurroundsPrev struct {
	Prev SignedAttestation
}

func (e *NewSurroundsPrev) Error() string {
	return fmt.Sprintf("new attestation surrounds a previous one (%d -> %d)", e.Prev.SourceEpoch, e.Prev.TargetEpoch)
}
func (*NewSurroundsPrev) isSafetyError() {}

// StorageError wraps any failure of the underlying SQL engine, connection
// pool, or I/O layer. The caller must not sign: the store could not confirm
// safety either way.
type StorageError struct {
	cause error
}

func (e *StorageError) Error() string { return "slashing protection storage error: " + e.cause.Error() }
func (e *StorageError) Unwrap() error { return e.cause }

func wrapStorageErr(cause error, context string) error {
	if cause == nil {
		return nil
	}
	return &StorageError{cause: errors.Wrap(cause, context)}
}
