package app

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/arch4ngel/eavesarp/internal/app/version"
	"github.com/arch4ngel/eavesarp/internal/config"
)

// Run is the process entry point: it loads the environment, then
// hands off to the requested subcommand.
func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	config.SetLogLevel()
	settings := config.Load()

	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		return fmt.Errorf("app: a subcommand is required")
	}

	switch args[0] {
	case "capture", "c":
		return runCapture(args[1:], settings)
	case "analyze", "a":
		return runAnalyze(args[1:], settings)
	case "version":
		info := version.Get()
		fmt.Printf("eavesarp %s (built %s)\n", info.BuildVersion, info.BuiltAt)
		return nil
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("app: unknown subcommand %q", args[0])
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `eavesarp - passive ARP transaction analysis

Usage:
  eavesarp capture [flags]   Sniff who-has traffic from an interface
  eavesarp analyze [flags]   Rebuild a database from pcap and SQLite inputs
  eavesarp version           Print build information

Run a subcommand with -h for its flags. Aliases: c, a.
`)
}
