package store

import (
	"context"
	"database/sql"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// MinimalImportRecord pairs a public key with the lower bound an
// interchange Minimal document wants merged into the store.
type MinimalImportRecord struct {
	PubKey     phase0.BLSPubKey
	LowerBound LowerBound
}

// ImportMinimal registers every record's validator and monotonically widens
// its LowerBound, all inside a single transaction — the whole-document
// atomicity spec.md §4.E requires for Minimal import, unlike Complete
// import which is only atomic per-record.
func (s *Store) ImportMinimal(ctx context.Context, records []MinimalImportRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		pubKeys := make([]phase0.BLSPubKey, len(records))
		for i, r := range records {
			pubKeys[i] = r.PubKey
		}
		if err := registerValidatorsInTx(tx, pubKeys); err != nil {
			return err
		}
		for _, r := range records {
			validatorID, err := resolveValidatorID(tx, r.PubKey)
			if err != nil {
				return err
			}
			if err := setLowerBound(tx, validatorID, r.LowerBound); err != nil {
				return err
			}
		}
		return nil
	})
}
