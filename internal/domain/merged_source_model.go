package domain

import "time"

// MergedSource is the provenance ledger behind idempotent merges. Each
// successfully folded source database leaves its content fingerprint here;
// re-merging a source whose fingerprint is already present is a no-op, so
// re-running an aggregation over the same input files never double-counts.
type MergedSource struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	// Fingerprint is the SHA-256 of the source's canonical content.
	Fingerprint []byte `gorm:"type:blob;uniqueIndex;size:32;not null"`

	// Name records where the source came from, for operator forensics.
	Name string `gorm:"size:512;not null;default:''"`

	MergedAt time.Time `gorm:"autoCreateTime"`
}
