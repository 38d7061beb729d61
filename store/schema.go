package store

import "database/sql"

const createValidatorsTable = `
CREATE TABLE validators (
	id INTEGER PRIMARY KEY,
	public_key BLOB NOT NULL UNIQUE
)`

const createSignedBlocksTable = `
CREATE TABLE signed_blocks (
	validator_id INTEGER NOT NULL,
	slot INTEGER NOT NULL,
	signing_root BLOB NOT NULL,
	UNIQUE(validator_id, slot),
	FOREIGN KEY(validator_id) REFERENCES validators(id)
)`

const createSignedAttestationsTable = `
CREATE TABLE signed_attestations (
	validator_id INTEGER,
	source_epoch INTEGER NOT NULL,
	target_epoch INTEGER NOT NULL,
	signing_root BLOB NOT NULL,
	UNIQUE(validator_id, target_epoch),
	FOREIGN KEY(validator_id) REFERENCES validators(id)
)`

const createLowerBoundsTable = `
CREATE TABLE lower_bounds (
	validator_id INTEGER UNIQUE,
	block_proposal_slot INTEGER,
	attestation_source_epoch INTEGER,
	attestation_target_epoch INTEGER,
	FOREIGN KEY(validator_id) REFERENCES validators(id)
)`

const lowerBoundsTableExistsQuery = `
SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'lower_bounds'`

// createSchema creates all four tables; used only by Create on a brand new
// file.
func createSchema(db *sql.DB) error {
	for _, stmt := range []string{
		createValidatorsTable,
		createSignedBlocksTable,
		createSignedAttestationsTable,
		createLowerBoundsTable,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ensureLowerBoundsTable adds the lower_bounds table in-place if it is
// missing, allowing Open to upgrade a pre-existing database without a
// migration tool.
func ensureLowerBoundsTable(db *sql.DB) error {
	var exists int
	err := db.QueryRow(lowerBoundsTableExistsQuery).Scan(&exists)
	if err == sql.ErrNoRows {
		_, err = db.Exec(createLowerBoundsTable)
		return err
	}
	if err != nil {
		return err
	}
	return nil
}
