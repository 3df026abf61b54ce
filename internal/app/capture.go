package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"github.com/arch4ngel/eavesarp/internal/config"
	"github.com/arch4ngel/eavesarp/internal/database"
	"github.com/arch4ngel/eavesarp/internal/domain"
	"github.com/arch4ngel/eavesarp/internal/filter"
	"github.com/arch4ngel/eavesarp/internal/report"
	"github.com/arch4ngel/eavesarp/internal/resolver"
	"github.com/arch4ngel/eavesarp/internal/sniffer"
	"github.com/arch4ngel/eavesarp/internal/support"
)

type captureSession struct {
	opts     captureOptions
	settings config.Settings
	db       *gorm.DB
	resolver *resolver.Resolver
	sniffer  *sniffer.Sniffer
	output   *sniffer.Output
	sender   *filter.Lists
	target   *filter.Lists
	columns  []report.Column
	profile  report.Profile

	// dirty holds the transactions touched since the last redraw, so
	// enrichment only revisits what changed.
	dirty map[uint]*domain.Transaction
}

func runCapture(args []string, settings config.Settings) error {
	opts, err := parseCaptureFlags(args)
	if err != nil {
		return err
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

	existing := support.FileExists(opts.dbFile)
	db, err := database.SetupDB(database.WithPath(opts.dbFile))
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("Closing database", "error", err)
		}
	}()

	snif, err := sniffer.OpenLive(opts.iface, settings.CaptureBuffer, settings.Promiscuous)
	if err != nil {
		return err
	}
	go snif.Run()

	var out *sniffer.Output
	if opts.pcapFile != "" {
		out, err = sniffer.NewOutput(opts.pcapFile, snif.LinkType())
		if err != nil {
			snif.Close()
			return err
		}
	}

	session := &captureSession{
		opts:     opts,
		settings: settings,
		db:       db,
		resolver: buildResolver(opts.reverse, opts.arpResolve, opts.iface, settings),
		sniffer:  snif,
		output:   out,
		sender:   senderLists,
		target:   targetLists,
		columns:  columns,
		profile:  profile,
		dirty:    make(map[uint]*domain.Transaction),
	}
	return session.run(existing)
}

func buildResolver(reverse, arpResolve bool, iface string, settings config.Settings) *resolver.Resolver {
	opts := []resolver.Option{
		resolver.WithReverse(reverse),
		resolver.WithTimeout(settings.DNSTimeout),
		resolver.WithStalePredicate(resolver.StaleAfter(settings.StaleThreshold)),
	}
	if settings.DNSServer != "" {
		opts = append(opts, resolver.WithServers(settings.DNSServer))
	}
	if arpResolve {
		opts = append(opts, resolver.WithProber(sniffer.NewProber(iface, settings.ProbeTimeout)))
	}
	return resolver.New(opts...)
}

func (s *captureSession) run(existing bool) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	if existing {
		if err := redraw(s.db, s.sender, s.target, s.columns, s.profile); err != nil {
			return err
		}
	} else {
		fmt.Println("- Initializing capture")
		fmt.Println("- This may take time depending on network traffic and filter configurations")
	}

	pending := 0
	for {
		select {
		case <-interrupt:
			fmt.Println("\n- CTRL^C Caught...")
			fmt.Println("- Killing sniffer process and exiting")
			return s.shutdown()
		case c, open := <-s.sniffer.Events():
			if !open {
				s.flushOutputs()
				return fmt.Errorf("app: capture on %s stopped unexpectedly", s.opts.iface)
			}
			if err := s.process(c); err != nil {
				// Keep whatever made it to disk visible before failing.
				if rerr := redraw(s.db, s.sender, s.target, s.columns, s.profile); rerr != nil {
					log.Warn("Final redraw failed", "error", rerr)
				}
				s.flushOutputs()
				return err
			}
			pending++
			if pending >= s.opts.redrawEvery {
				pending = 0
				s.enrichDirty()
				if err := redraw(s.db, s.sender, s.target, s.columns, s.profile); err != nil {
					return err
				}
			}
		}
	}
}

// process appends the frame to the pcap output and records it when
// both addresses pass the configured filters.
func (s *captureSession) process(c sniffer.Captured) error {
	if s.output != nil {
		if err := s.output.Append(c); err != nil {
			log.Warn("Appending to pcap output", "error", err)
		}
	}

	ev := c.Event
	if !s.sender.Check(ev.SenderIP) || !s.target.Check(ev.TargetIP) {
		return nil
	}

	transaction, err := database.RecordRequest(s.db, ev, logRebind)
	if err != nil {
		return err
	}
	s.dirty[transaction.ID] = transaction
	return nil
}

// enrichDirty resolves names and probes targets for the transactions
// touched since the last redraw. Failures are logged and retried on a
// later cycle.
func (s *captureSession) enrichDirty() {
	for id, transaction := range s.dirty {
		if err := s.resolver.Enrich(s.db, transaction); err != nil {
			log.Warn("Enrichment failed",
				"sender", transaction.Sender.IP, "target", transaction.Target.IP, "error", err)
		}
		delete(s.dirty, id)
	}
}

// shutdown is the interrupt path: flush everything, then report.
func (s *captureSession) shutdown() error {
	s.flushOutputs()
	fmt.Println("- Done! Exiting")
	return nil
}

// flushOutputs closes the sniffer handle, which collapses the event
// channel, then spools the pcap output and analysis file to disk
// within the configured timeout. It runs on every exit path so
// buffered frames survive failures too.
func (s *captureSession) flushOutputs() {
	s.sniffer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range s.sniffer.Events() {
			// Unblock the capture goroutine; frames that never reached
			// the loop are dropped.
		}
		if s.output != nil {
			if err := s.output.Close(); err != nil {
				log.Warn("Closing pcap output", "error", err)
			}
		}
		if s.opts.analysisFile != "" {
			if err := writeAnalysis(s.db, s.opts.analysisFile, s.sender, s.target, s.columns); err != nil {
				log.Warn("Writing analysis file", "error", err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(s.settings.FlushTimeout):
		log.Warn("Output flush timed out", "timeout", s.settings.FlushTimeout)
	}
}

func logRebind(ip, oldMAC, newMAC string, at time.Time) {
	log.Warn("Sender hardware address changed", "ip", ip, "old", oldMAC, "new", newMAC, "at", at)
}
