package database

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/arch4ngel/eavesarp/internal/domain"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// MergeDatabase folds the contents of src into dst exactly once.
// Sources are identified by a digest of their observational content;
// a source already present in dst's ledger is skipped, so feeding the
// same capture twice cannot double-count requests. Reports whether
// anything was folded.
func MergeDatabase(dst, src *gorm.DB, name string) (bool, error) {
	fingerprint, err := sourceFingerprint(src)
	if err != nil {
		return false, fmt.Errorf("database: fingerprint %s: %w", name, err)
	}

	var seen domain.MergedSource
	err = dst.Where("fingerprint = ?", fingerprint).First(&seen).Error
	switch {
	case err == nil:
		log.Info("Source already merged, skipping", "source", name, "first_merged_as", seen.Name)
		return false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, fmt.Errorf("database: ledger lookup for %s: %w", name, err)
	}

	var srcHosts []domain.Host
	if err := src.Order("ip ASC").Find(&srcHosts).Error; err != nil {
		return false, fmt.Errorf("database: load hosts from %s: %w", name, err)
	}
	srcTransactions, err := GetTransactions(src)
	if err != nil {
		return false, fmt.Errorf("database: load transactions from %s: %w", name, err)
	}

	tx := dst.Begin()
	if tx.Error != nil {
		return false, tx.Error
	}
	defer transactionRollbackHandler(tx)

	hostIDs := make(map[string]uint, len(srcHosts))
	for _, host := range srcHosts {
		id, err := mergeHost(tx, host)
		if err != nil {
			tx.Rollback()
			return false, err
		}
		hostIDs[host.IP] = id
	}

	for _, transaction := range srcTransactions {
		senderID, senderOK := hostIDs[transaction.Sender.IP]
		targetID, targetOK := hostIDs[transaction.Target.IP]
		if !senderOK || !targetOK {
			tx.Rollback()
			return false, fmt.Errorf("database: merge %s: transaction %d references an unknown host", name, transaction.ID)
		}
		if err := mergeTransaction(tx, transaction, senderID, targetID); err != nil {
			tx.Rollback()
			return false, err
		}
	}

	ledger := domain.MergedSource{Fingerprint: fingerprint, Name: name}
	if err := tx.Create(&ledger).Error; err != nil {
		tx.Rollback()
		return false, fmt.Errorf("database: record merged source %s: %w", name, err)
	}

	if err := tx.Commit().Error; err != nil {
		return false, err
	}
	return true, nil
}

// sourceFingerprint digests what a store observed: every sender/target
// pair with its counter and window, and every host's link address.
// Resolution caches stay out of the digest, so the same capture
// enriched under different DNS views still counts as one source.
func sourceFingerprint(db *gorm.DB) ([]byte, error) {
	var hosts []domain.Host
	if err := db.Order("ip ASC").Find(&hosts).Error; err != nil {
		return nil, err
	}
	transactions, err := GetTransactions(db)
	if err != nil {
		return nil, err
	}

	// Nanosecond stamps keep two same-second sources apart; anything
	// coarser would dedupe a burst split across capture files.
	lines := make([]string, 0, len(hosts)+len(transactions))
	for _, transaction := range transactions {
		lines = append(lines, fmt.Sprintf("t|%s|%s|%d|%d|%d",
			transaction.Sender.IP,
			transaction.Target.IP,
			transaction.Count,
			transaction.FirstSeen.UTC().UnixNano(),
			transaction.LastSeen.UTC().UnixNano(),
		))
	}
	for _, host := range hosts {
		lines = append(lines, fmt.Sprintf("h|%s|%s", host.IP, host.MACAddress))
	}
	sort.Strings(lines)

	digest := sha256.New()
	for _, line := range lines {
		digest.Write([]byte(line))
		digest.Write([]byte{'\n'})
	}
	return digest.Sum(nil), nil
}

func mergeHost(tx *gorm.DB, src domain.Host) (uint, error) {
	var dst domain.Host
	if err := tx.Where(domain.Host{IP: src.IP}).FirstOrCreate(&dst).Error; err != nil {
		return 0, fmt.Errorf("database: merge host %s: %w", src.IP, err)
	}

	changed := false
	if src.MACAddress != "" {
		var at time.Time
		if src.MACSeenAt != nil {
			at = *src.MACSeenAt
		}
		if dst.ObserveMAC(src.MACAddress, at) {
			changed = true
		}
	}
	if dst.PTRName == "" && src.PTRName != "" {
		dst.PTRName = src.PTRName
		dst.ForwardIP = src.ForwardIP
		changed = true
	}

	if changed {
		if err := tx.Save(&dst).Error; err != nil {
			return 0, fmt.Errorf("database: merge host %s: %w", src.IP, err)
		}
	}
	return dst.ID, nil
}

func mergeTransaction(tx *gorm.DB, src domain.Transaction, senderID, targetID uint) error {
	var dst domain.Transaction
	err := tx.Where(domain.Transaction{SenderID: senderID, TargetID: targetID}).
		Attrs(domain.Transaction{FirstSeen: src.FirstSeen, LastSeen: src.LastSeen}).
		FirstOrCreate(&dst).Error
	if err != nil {
		return fmt.Errorf("database: merge transaction %d->%d: %w", senderID, targetID, err)
	}

	dst.Count += src.Count
	if src.FirstSeen.Before(dst.FirstSeen) {
		dst.FirstSeen = src.FirstSeen
	}
	if src.LastSeen.After(dst.LastSeen) {
		dst.LastSeen = src.LastSeen
	}
	dst.Stale = dst.Stale || src.Stale
	dst.MitmOp = dst.MitmOp || src.MitmOp

	if err := tx.Save(&dst).Error; err != nil {
		return fmt.Errorf("database: merge transaction %d->%d: %w", senderID, targetID, err)
	}
	return nil
}
