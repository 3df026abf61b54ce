package domain

import "time"

// Transaction aggregates every ARP who-has request observed for one
// (sender IP, target IP) pair. Rows are never evicted; the dataset is a
// forensic aggregate that only an explicit reset destroys.
type Transaction struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	SenderID uint `gorm:"not null;uniqueIndex:idx_transaction_pair,priority:1"`
	TargetID uint `gorm:"not null;uniqueIndex:idx_transaction_pair,priority:2"`

	Sender Host `gorm:"foreignKey:SenderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Target Host `gorm:"foreignKey:TargetID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	// Count is incremented exactly once per accepted raw event for this
	// pair. Merges add whole source counts instead.
	Count uint64 `gorm:"not null;default:0"`

	FirstSeen time.Time `gorm:"not null"`
	LastSeen  time.Time `gorm:"not null"`

	// Stale marks a pair whose target never answered an active probe
	// despite repeated requests. Written only by the resolver.
	Stale bool `gorm:"not null;default:false"`

	// MitmOp marks a target whose reverse and forward resolution disagree.
	// Written only by the resolver.
	MitmOp bool `gorm:"not null;default:false"`
}

// Touch applies one accepted raw event to the aggregate.
func (t *Transaction) Touch(at time.Time) {
	t.Count++
	if t.FirstSeen.IsZero() || at.Before(t.FirstSeen) {
		t.FirstSeen = at
	}
	if at.After(t.LastSeen) {
		t.LastSeen = at
	}
}
