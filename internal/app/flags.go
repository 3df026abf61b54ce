package app

import (
	"flag"
	"fmt"
	"strings"

	"github.com/arch4ngel/eavesarp/internal/database"
	"github.com/arch4ngel/eavesarp/internal/filter"
	"github.com/arch4ngel/eavesarp/internal/report"
)

// analyzeDefaultPath keeps analyze runs from clobbering a capture
// database by accident.
const analyzeDefaultPath = "eavesarp_dump.db"

// stringList collects repeatable flag values; each occurrence may also
// carry several comma-separated entries.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// filterFlags is the allow/deny surface shared by both subcommands.
// Global values feed both address roles, the role-specific ones only
// theirs. Values are IPv4 literals or paths to files of them.
type filterFlags struct {
	white       stringList
	black       stringList
	senderWhite stringList
	senderBlack stringList
	targetWhite stringList
	targetBlack stringList
}

func (f *filterFlags) register(fs *flag.FlagSet) {
	fs.Var(&f.white, "whitelist", "Address or file of addresses both sender and target must match")
	fs.Var(&f.black, "blacklist", "Address or file of addresses neither sender nor target may match")
	fs.Var(&f.senderWhite, "sender-whitelist", "Address or file of addresses the sender must match")
	fs.Var(&f.senderBlack, "sender-blacklist", "Address or file of addresses the sender must not match")
	fs.Var(&f.targetWhite, "target-whitelist", "Address or file of addresses the target must match")
	fs.Var(&f.targetBlack, "target-blacklist", "Address or file of addresses the target must not match")
}

// lists builds the two role-bound filter instances.
func (f *filterFlags) lists() (sender, target *filter.Lists) {
	sender = filter.NewLists()
	sender.AddWhite(f.white...)
	sender.AddWhite(f.senderWhite...)
	sender.AddBlack(f.black...)
	sender.AddBlack(f.senderBlack...)
	sender.Normalize()

	target = filter.NewLists()
	target.AddWhite(f.white...)
	target.AddWhite(f.targetWhite...)
	target.AddBlack(f.black...)
	target.AddBlack(f.targetBlack...)
	target.Normalize()

	return sender, target
}

type captureOptions struct {
	iface        string
	redrawEvery  int
	reverse      bool
	arpResolve   bool
	dbFile       string
	pcapFile     string
	analysisFile string
	columns      []string
	profile      string
	filters      filterFlags
}

func parseCaptureFlags(args []string) (captureOptions, error) {
	var opts captureOptions
	var columns stringList

	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	fs.StringVar(&opts.iface, "interface", "eth0", "Network interface to sniff on")
	fs.IntVar(&opts.redrawEvery, "redraw-frequency", 5, "Redraw the screen after each N packets")
	fs.BoolVar(&opts.reverse, "reverse-resolve", true, "Resolve PTR and forward names for observed addresses")
	fs.BoolVar(&opts.arpResolve, "arp-resolve", false, "Probe targets over ARP to detect stale pairs")
	fs.StringVar(&opts.dbFile, "database-output-file", database.DefaultPath, "SQLite file receiving observed transactions")
	fs.StringVar(&opts.pcapFile, "pcap-output-file", "", "Write observed who-has frames to this pcap file")
	fs.StringVar(&opts.analysisFile, "analysis-output-file", "", "Write the final uncolored table to this file on exit")
	fs.Var(&columns, "output-columns", "Columns to display, in order")
	fs.StringVar(&opts.profile, "color-profile", "default",
		fmt.Sprintf("Color profile to use (%s)", strings.Join(report.ProfileNames(), ", ")))
	opts.filters.register(fs)

	if err := fs.Parse(args); err != nil {
		return captureOptions{}, err
	}
	if opts.redrawEvery < 1 {
		return captureOptions{}, fmt.Errorf("app: redraw frequency must be positive")
	}
	opts.columns = selectedColumns(fs, columns)
	return opts, nil
}

type analyzeOptions struct {
	pcapFiles    stringList
	sqliteFiles  stringList
	dbFile       string
	analysisFile string
	reverse      bool
	columns      []string
	profile      string
	filters      filterFlags
}

func parseAnalyzeFlags(args []string) (analyzeOptions, error) {
	var opts analyzeOptions
	var columns stringList

	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.Var(&opts.pcapFiles, "pcap-files", "pcap files to fold into the destination database")
	fs.Var(&opts.sqliteFiles, "sqlite-files", "Capture databases to merge into the destination database")
	fs.StringVar(&opts.dbFile, "database-output-file", analyzeDefaultPath, "Destination SQLite file, recreated on every run")
	fs.StringVar(&opts.analysisFile, "analysis-output-file", "", "Write the uncolored table to this file as well")
	fs.BoolVar(&opts.reverse, "reverse-resolve", true, "Resolve PTR and forward names for observed addresses")
	fs.Var(&columns, "output-columns", "Columns to display, in order")
	fs.StringVar(&opts.profile, "color-profile", "default",
		fmt.Sprintf("Color profile to use (%s)", strings.Join(report.ProfileNames(), ", ")))
	opts.filters.register(fs)

	if err := fs.Parse(args); err != nil {
		return analyzeOptions{}, err
	}
	opts.columns = selectedColumns(fs, columns)
	return opts, nil
}

// selectedColumns substitutes the default column order only when the
// flag was never given; an explicitly empty selection stays empty so
// validation can reject it.
func selectedColumns(fs *flag.FlagSet, columns stringList) []string {
	if len(columns) > 0 {
		return columns
	}
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "output-columns" {
			set = true
		}
	})
	if set {
		return nil
	}
	return append([]string(nil), report.DefaultColumns...)
}
