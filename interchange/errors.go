package interchange

import (
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// UnsupportedVersion is returned when interchange_format_version is not
// SupportedVersion.
type UnsupportedVersion struct {
	Got uint64
}

func (e *UnsupportedVersion) Error() string {
	return fmt.Sprintf("interchange format version %d is not supported, wanted %d", e.Got, SupportedVersion)
}

// GenesisValidatorsMismatch is returned when the document's
// genesis_validators_root does not match the caller-supplied chain value.
type GenesisValidatorsMismatch struct {
	Client          phase0.Root
	InterchangeFile phase0.Root
}

func (e *GenesisValidatorsMismatch) Error() string {
	return fmt.Sprintf(
		"genesis validators root mismatch: client has %#x, interchange file has %#x",
		e.Client, e.InterchangeFile,
	)
}

// MinimalAttestationSourceAndTargetInconsistent is returned when a Minimal
// record supplies exactly one of source/target epoch.
type MinimalAttestationSourceAndTargetInconsistent struct {
	PubKey phase0.BLSPubKey
}

func (e *MinimalAttestationSourceAndTargetInconsistent) Error() string {
	return fmt.Sprintf(
		"validator %#x: last_signed_attestation_source_epoch and last_signed_attestation_target_epoch must both be present or both be absent",
		e.PubKey,
	)
}
