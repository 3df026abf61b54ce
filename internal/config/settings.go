package config

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/arch4ngel/eavesarp/internal/support"
)

// Settings carries the tunables that are not worth a CLI flag. Every field
// has a working default; the environment (or a .env file) overrides them.
type Settings struct {
	// DNSServer forces a resolver address (host:port). Empty means discover
	// the system resolver from /etc/resolv.conf.
	DNSServer string

	// DNSTimeout bounds a single PTR or A exchange.
	DNSTimeout time.Duration

	// ProbeTimeout bounds the wait for an active ARP probe reply.
	ProbeTimeout time.Duration

	// StaleThreshold is the request count a transaction must reach before an
	// unanswered probe marks it stale.
	StaleThreshold uint64

	// CaptureBuffer is the capacity of the channel between the capture
	// worker and the control loop.
	CaptureBuffer int

	// Promiscuous controls capture mode. Off limits the view to traffic
	// the interface would receive anyway; broadcasts still arrive.
	Promiscuous bool

	// FlushTimeout bounds the best-effort output flush during shutdown.
	FlushTimeout time.Duration
}

const (
	defaultDNSTimeout     = 2 * time.Second
	defaultProbeTimeout   = time.Second
	defaultStaleThreshold = 3
	defaultCaptureBuffer  = 512
	defaultFlushTimeout   = 5 * time.Second
)

func Load() Settings {
	threshold := support.GetEnvInt("EAVESARP_STALE_THRESHOLD", defaultStaleThreshold)
	if threshold < 1 {
		log.Warn("Ignoring non-positive stale threshold", "value", threshold)
		threshold = defaultStaleThreshold
	}

	buffer := support.GetEnvInt("EAVESARP_CAPTURE_BUFFER", defaultCaptureBuffer)
	if buffer < 1 {
		buffer = defaultCaptureBuffer
	}

	return Settings{
		DNSServer:      support.GetEnv("EAVESARP_DNS_SERVER", ""),
		DNSTimeout:     support.GetEnvDuration("EAVESARP_DNS_TIMEOUT", defaultDNSTimeout),
		ProbeTimeout:   support.GetEnvDuration("EAVESARP_PROBE_TIMEOUT", defaultProbeTimeout),
		StaleThreshold: uint64(threshold),
		CaptureBuffer:  buffer,
		Promiscuous:    support.GetEnvBool("EAVESARP_PROMISCUOUS", true),
		FlushTimeout:   support.GetEnvDuration("EAVESARP_FLUSH_TIMEOUT", defaultFlushTimeout),
	}
}

// SetLogLevel applies EAVESARP_LOG_LEVEL to the default logger.
func SetLogLevel() {
	raw := support.GetEnv("EAVESARP_LOG_LEVEL", "info")
	level, err := log.ParseLevel(raw)
	if err != nil {
		log.Warn("Unknown log level, staying at info", "value", raw)
		return
	}
	log.SetLevel(level)
}
