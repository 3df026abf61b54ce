package app

import (
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/arch4ngel/eavesarp/internal/config"
	"github.com/arch4ngel/eavesarp/internal/database"
	"github.com/arch4ngel/eavesarp/internal/filter"
	"github.com/arch4ngel/eavesarp/internal/report"
	"github.com/arch4ngel/eavesarp/internal/sniffer"
	"github.com/arch4ngel/eavesarp/internal/support"
)

// runAnalyze rebuilds a fresh database from pcap and SQLite inputs,
// re-enriches it, and prints the table once.
func runAnalyze(args []string, settings config.Settings) error {
	opts, err := parseAnalyzeFlags(args)
	if err != nil {
		return err
	}
	if len(opts.pcapFiles)+len(opts.sqliteFiles) == 0 {
		return fmt.Errorf("app: analyze requires at least one input file")
	}

	columns, err := report.ResolveColumns(opts.columns)
	if err != nil {
		return err
	}
	profile, err := report.LookupProfile(opts.profile)
	if err != nil {
		return err
	}
	senderLists, targetLists := opts.filters.lists()

	// The destination is recreated below; an input naming it would be
	// wiped before it is read.
	for _, path := range opts.pcapFiles {
		if !support.FileExists(path) {
			return fmt.Errorf("app: pcap input %s does not exist", path)
		}
		if support.SamePath(path, opts.dbFile) {
			return fmt.Errorf("app: pcap input %s is also the destination database", path)
		}
	}
	for _, path := range opts.sqliteFiles {
		if !support.FileExists(path) {
			return fmt.Errorf("app: sqlite input %s does not exist", path)
		}
		if support.SamePath(path, opts.dbFile) {
			return fmt.Errorf("app: sqlite input %s is also the destination database", path)
		}
	}

	db, err := database.SetupDB(database.WithPath(opts.dbFile), database.WithRecreate(true))
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("Closing database", "error", err)
		}
	}()

	if err := importPcapFiles(db, opts.pcapFiles, senderLists, targetLists); err != nil {
		return err
	}
	if err := mergeSQLiteFiles(db, opts.sqliteFiles); err != nil {
		return err
	}

	// No live interface here, so probing stays off and merged stale
	// verdicts carry through untouched.
	res := buildResolver(opts.reverse, false, "", settings)
	if err := res.EnrichAll(db); err != nil {
		log.Warn("Enrichment incomplete", "error", err)
	}

	if pairs, err := database.CountTransactions(db); err == nil {
		log.Info("Aggregation complete", "pairs", pairs, "database", opts.dbFile)
	}

	visible, err := visibleTransactions(db, senderLists, targetLists)
	if err != nil {
		return err
	}
	fmt.Println(report.Render(visible, columns, profile))

	if opts.analysisFile != "" {
		if err := writeAnalysis(db, opts.analysisFile, senderLists, targetLists, columns); err != nil {
			return err
		}
	}
	return nil
}

// importPcapFiles parses every file concurrently, then folds the
// events into the database serially in input order so request counts
// stay deterministic.
func importPcapFiles(db *gorm.DB, paths []string, sender, target *filter.Lists) error {
	if len(paths) == 0 {
		return nil
	}

	parsed := make([][]sniffer.Captured, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			events, err := sniffer.ReadFile(path)
			if err != nil {
				return err
			}
			parsed[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, path := range paths {
		accepted := 0
		for _, c := range parsed[i] {
			ev := c.Event
			if !sender.Check(ev.SenderIP) || !target.Check(ev.TargetIP) {
				continue
			}
			if _, err := database.RecordRequest(db, ev, logRebind); err != nil {
				return err
			}
			accepted++
		}
		log.Info("Imported pcap file", "path", path, "events", len(parsed[i]), "accepted", accepted)
	}
	return nil
}

func mergeSQLiteFiles(db *gorm.DB, paths []string) error {
	for _, path := range paths {
		src, err := database.SetupDB(database.WithPath(path), database.WithAutoMigrate(false))
		if err != nil {
			return fmt.Errorf("app: open sqlite input %s: %w", path, err)
		}
		merged, err := database.MergeDatabase(db, src, path)
		if cerr := database.Close(src); cerr != nil {
			log.Warn("Closing sqlite input", "path", path, "error", cerr)
		}
		if err != nil {
			return fmt.Errorf("app: merge %s: %w", path, err)
		}
		if merged {
			log.Info("Merged sqlite file", "path", path)
		}
	}
	return nil
}
