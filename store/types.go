// Package store implements the slashing-protection entity model, the
// transactional check-and-insert API, and the pure safety checker that sits
// between them.
package store

import (
	"github.com/attestantio/go-eth2-client/spec/phase0"
	eth2types "github.com/prysmaticlabs/eth2-types"
)

// Validator is a registered signer, identified by its BLS public key. ID is
// the store's own internal identifier; it must never be treated as, or
// exposed in place of, a validator index.
type Validator struct {
	ID        int64
	PublicKey phase0.BLSPubKey
}

// SignedBlock is a previously-accepted block proposal. At most one exists
// per (validator, Slot).
type SignedBlock struct {
	ValidatorID int64
	Slot        eth2types.Slot
	SigningRoot phase0.Root
}

// SignedAttestation is a previously-accepted attestation. At most one exists
// per (validator, TargetEpoch).
type SignedAttestation struct {
	ValidatorID int64
	SourceEpoch eth2types.Epoch
	TargetEpoch eth2types.Epoch
	SigningRoot phase0.Root
}

// LowerBound is the per-validator minimum below which no new signature may
// be issued. Each field is independently optional; see Merge for how two
// bounds combine.
type LowerBound struct {
	BlockProposalSlot      *eth2types.Slot
	AttestationSourceEpoch *eth2types.Epoch
	AttestationTargetEpoch *eth2types.Epoch
}

// IsZero reports whether no field of the bound is set.
func (lb LowerBound) IsZero() bool {
	return lb.BlockProposalSlot == nil && lb.AttestationSourceEpoch == nil && lb.AttestationTargetEpoch == nil
}

// Merge returns the monotonically-greater combination of lb and other: each
// field takes the larger of the two present values, and an absent field
// never overwrites a present one.
func (lb LowerBound) Merge(other LowerBound) LowerBound {
	return LowerBound{
		BlockProposalSlot:      maxSlotPtr(lb.BlockProposalSlot, other.BlockProposalSlot),
		AttestationSourceEpoch: maxEpochPtr(lb.AttestationSourceEpoch, other.AttestationSourceEpoch),
		AttestationTargetEpoch: maxEpochPtr(lb.AttestationTargetEpoch, other.AttestationTargetEpoch),
	}
}

func maxSlotPtr(a, b *eth2types.Slot) *eth2types.Slot {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a >= *b:
		return a
	default:
		return b
	}
}

func maxEpochPtr(a, b *eth2types.Epoch) *eth2types.Epoch {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a >= *b:
		return a
	default:
		return b
	}
}

// BlockDecision is the sum type returned by checkBlock. Exactly one
// concrete type below satisfies it for any given check.
type BlockDecision interface {
	isBlockDecision()
}

// BlockValid means the block is safe to insert.
type BlockValid struct{}

func (BlockValid) isBlockDecision() {}

// BlockSameData means an identical record already exists: this is a replay.
type BlockSameData struct{}

func (BlockSameData) isBlockDecision() {}

// AttestationDecision is the sum type returned by checkAttestation.
type AttestationDecision interface {
	isAttestationDecision()
}

// AttestationValid means the attestation is safe to insert.
type AttestationValid struct{}

func (AttestationValid) isAttestationDecision() {}

// AttestationSameData means an identical record already exists.
type AttestationSameData struct{}

func (AttestationSameData) isAttestationDecision() {}
