// Package interchange implements the import/export codec for the
// standardized JSON slashing-protection interchange format, moving
// protection history between validator implementations without ever
// permitting a safety regression.
package interchange

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	eth2types "github.com/prysmaticlabs/eth2-types"
)

// SupportedVersion is the only interchange_format_version this codec
// accepts for import.
const SupportedVersion = 3

// Format names the two shapes a document's data body can take.
type Format string

const (
	FormatComplete Format = "Complete"
	FormatMinimal  Format = "Minimal"
)

// Metadata is the interchange document's header, validated in full before
// any data is touched.
type Metadata struct {
	Format                Format   `json:"interchange_format"`
	Version               uint64   `json:"interchange_format_version"`
	GenesisValidatorsRoot jsonRoot `json:"genesis_validators_root"`
}

// SignedBlockRecord is one block entry of a Complete document. SigningRoot
// is optional; an absent value is treated as the all-zero hash on import.
type SignedBlockRecord struct {
	Slot        eth2types.Slot `json:"slot"`
	SigningRoot *jsonRoot      `json:"signing_root,omitempty"`
}

// SignedAttestationRecord is one attestation entry of a Complete document.
type SignedAttestationRecord struct {
	SourceEpoch eth2types.Epoch `json:"source_epoch"`
	TargetEpoch eth2types.Epoch `json:"target_epoch"`
	SigningRoot *jsonRoot       `json:"signing_root,omitempty"`
}

// CompleteValidatorData is one validator's full signing history.
type CompleteValidatorData struct {
	PubKey             jsonPubKey                `json:"pubkey"`
	SignedBlocks       []SignedBlockRecord       `json:"signed_blocks"`
	SignedAttestations []SignedAttestationRecord `json:"signed_attestations"`
}

// MinimalValidatorData is one validator's compacted lower bound. Source is
// present iff Target is present (see ErrMinimalSourceTargetInconsistent).
type MinimalValidatorData struct {
	PubKey                           jsonPubKey       `json:"pubkey"`
	LastSignedBlockSlot              *eth2types.Slot  `json:"last_signed_block_slot,omitempty"`
	LastSignedAttestationSourceEpoch *eth2types.Epoch `json:"last_signed_attestation_source_epoch,omitempty"`
	LastSignedAttestationTargetEpoch *eth2types.Epoch `json:"last_signed_attestation_target_epoch,omitempty"`
}

// Document is a full interchange file: a metadata header plus a data body
// whose shape depends on Metadata.Format.
type Document struct {
	Metadata Metadata                `json:"metadata"`
	Complete []CompleteValidatorData `json:"-"`
	Minimal  []MinimalValidatorData  `json:"-"`
}

// MarshalJSON writes out the document with data in the shape its Format
// names.
func (d *Document) MarshalJSON() ([]byte, error) {
	switch d.Metadata.Format {
	case FormatComplete:
		return json.Marshal(struct {
			Metadata Metadata                 `json:"metadata"`
			Data     []CompleteValidatorData `json:"data"`
		}{d.Metadata, d.Complete})
	case FormatMinimal:
		return json.Marshal(struct {
			Metadata Metadata               `json:"metadata"`
			Data     []MinimalValidatorData `json:"data"`
		}{d.Metadata, d.Minimal})
	default:
		return nil, fmt.Errorf("unknown interchange format %q", d.Metadata.Format)
	}
}

// UnmarshalJSON reads the metadata header first, then dispatches parsing of
// the data body based on the declared format.
func (d *Document) UnmarshalJSON(raw []byte) error {
	var header struct {
		Metadata Metadata        `json:"metadata"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return err
	}
	d.Metadata = header.Metadata
	switch d.Metadata.Format {
	case FormatComplete:
		return json.Unmarshal(header.Data, &d.Complete)
	case FormatMinimal:
		return json.Unmarshal(header.Data, &d.Minimal)
	default:
		return fmt.Errorf("unknown interchange format %q", d.Metadata.Format)
	}
}

// jsonPubKey and jsonRoot give phase0's fixed-size byte arrays the
// "0x"+hex JSON encoding the interchange format requires. Grounded
// directly on jsonPubKey/jsonRoot in the teacher's http/transport.go —
// rehomed here since the interchange codec, not the HTTP layer, is the
// component that needs this encoding (spec.md §6).
type jsonPubKey phase0.BLSPubKey

func (j jsonPubKey) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + hex.EncodeToString(j[:]) + `"`), nil
}

func (j *jsonPubKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	if len(b) != len(j) {
		return fmt.Errorf("public key must be %d bytes, got %d", len(j), len(b))
	}
	copy(j[:], b)
	return nil
}

func (j jsonPubKey) phase0() phase0.BLSPubKey { return phase0.BLSPubKey(j) }

type jsonRoot phase0.Root

func (j jsonRoot) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + hex.EncodeToString(j[:]) + `"`), nil
}

func (j *jsonRoot) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	if len(b) != len(j) {
		return fmt.Errorf("root must be %d bytes, got %d", len(j), len(b))
	}
	copy(j[:], b)
	return nil
}

func (j jsonRoot) phase0() phase0.Root { return phase0.Root(j) }

func rootFromJSONPtr(j *jsonRoot) phase0.Root {
	if j == nil {
		return phase0.Root{}
	}
	return j.phase0()
}
