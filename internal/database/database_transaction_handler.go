package database

import (
	"fmt"
	"time"

	"github.com/arch4ngel/eavesarp/internal/domain"

	"gorm.io/gorm"
)

// RebindFunc is called when a sender IP shows up with a link address
// different from the one on record, before the record is rewritten.
type RebindFunc func(ip, oldMAC, newMAC string, at time.Time)

// RecordRequest folds one accepted ARP request into the store: both
// hosts are created on first sight, the sender's MAC observation is
// applied, and the per-pair counter advances. The whole fold runs in
// a single database transaction.
func RecordRequest(db *gorm.DB, ev domain.RequestEvent, onRebind RebindFunc) (*domain.Transaction, error) {
	tx := db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer transactionRollbackHandler(tx)

	sender, err := upsertHost(tx, ev.SenderIP)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := observeSenderMAC(tx, sender, ev.SenderMAC, ev.At, onRebind); err != nil {
		tx.Rollback()
		return nil, err
	}

	target, err := upsertHost(tx, ev.TargetIP)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	transaction, err := touchTransaction(tx, sender.ID, target.ID, ev.At)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	transaction.Sender = *sender
	transaction.Target = *target
	return transaction, nil
}

func upsertHost(tx *gorm.DB, ip string) (*domain.Host, error) {
	var host domain.Host
	if err := tx.Where(domain.Host{IP: ip}).FirstOrCreate(&host).Error; err != nil {
		return nil, fmt.Errorf("database: upsert host %s: %w", ip, err)
	}
	return &host, nil
}

func observeSenderMAC(tx *gorm.DB, host *domain.Host, mac string, at time.Time, onRebind RebindFunc) error {
	previous := host.MACAddress
	if !host.ObserveMAC(mac, at) {
		return nil
	}
	if previous != "" && previous != host.MACAddress && onRebind != nil {
		onRebind(host.IP, previous, host.MACAddress, at)
	}

	err := tx.Model(host).Updates(map[string]any{
		"mac_address": host.MACAddress,
		"mac_seen_at": host.MACSeenAt,
	}).Error
	if err != nil {
		return fmt.Errorf("database: update host %s: %w", host.IP, err)
	}
	return nil
}

func touchTransaction(tx *gorm.DB, senderID, targetID uint, at time.Time) (*domain.Transaction, error) {
	var transaction domain.Transaction
	err := tx.Where(domain.Transaction{SenderID: senderID, TargetID: targetID}).
		Attrs(domain.Transaction{FirstSeen: at, LastSeen: at}).
		FirstOrCreate(&transaction).Error
	if err != nil {
		return nil, fmt.Errorf("database: upsert transaction %d->%d: %w", senderID, targetID, err)
	}

	transaction.Touch(at)

	err = tx.Model(&transaction).Updates(map[string]any{
		"count":      transaction.Count,
		"first_seen": transaction.FirstSeen,
		"last_seen":  transaction.LastSeen,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("database: update transaction %d->%d: %w", senderID, targetID, err)
	}
	return &transaction, nil
}

// GetTransactions returns every stored transaction with both hosts
// loaded, busiest pair first.
func GetTransactions(db *gorm.DB) ([]domain.Transaction, error) {
	var transactions []domain.Transaction
	err := db.Preload("Sender").
		Preload("Target").
		Order("count DESC, id ASC").
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("database: load transactions: %w", err)
	}
	return transactions, nil
}

// CountTransactions reports how many sender/target pairs the store
// already holds. A reopened capture database starts non-empty.
func CountTransactions(db *gorm.DB) (int64, error) {
	var count int64
	if err := db.Model(&domain.Transaction{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("database: count transactions: %w", err)
	}
	return count, nil
}

// SaveHost persists resolver results written into a host row.
func SaveHost(db *gorm.DB, host *domain.Host) error {
	if err := db.Save(host).Error; err != nil {
		return fmt.Errorf("database: save host %s: %w", host.IP, err)
	}
	return nil
}

// SaveTransactionFlags persists the analysis verdict for a pair.
func SaveTransactionFlags(db *gorm.DB, transaction *domain.Transaction) error {
	err := db.Model(transaction).Updates(map[string]any{
		"stale":   transaction.Stale,
		"mitm_op": transaction.MitmOp,
	}).Error
	if err != nil {
		return fmt.Errorf("database: save transaction %d: %w", transaction.ID, err)
	}
	return nil
}
