package resolver

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/arch4ngel/eavesarp/internal/database"
	"github.com/arch4ngel/eavesarp/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/miekg/dns"
	"gorm.io/gorm"
)

const defaultTimeout = 2 * time.Second

// Exchanger is the slice of dns.Client the resolver depends on.
type Exchanger interface {
	Exchange(msg *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// Prober reports the link address answering for an IP, if any. An
// empty address with a nil error means the probe went unanswered.
type Prober interface {
	Probe(ip string) (string, error)
}

// StalePredicate decides whether an unanswered target marks the pair
// stale, given how often the sender has asked.
type StalePredicate func(count uint64, attempted, replied bool) bool

// StaleAfter builds the default staleness rule: the sender keeps
// asking (count at or past threshold), a probe went out, and nothing
// answered.
func StaleAfter(threshold uint64) StalePredicate {
	return func(count uint64, attempted, replied bool) bool {
		return attempted && !replied && count >= threshold
	}
}

// Resolver enriches transactions with reverse/forward DNS cross-checks
// and, when a prober is attached, active reachability verdicts. All
// lookups run inline with bounded per-exchange timeouts.
type Resolver struct {
	client  Exchanger
	servers []string
	timeout time.Duration
	reverse bool
	prober  Prober
	stale   StalePredicate
}

type Option func(*Resolver)

func New(opts ...Option) *Resolver {
	r := &Resolver{
		timeout: defaultTimeout,
		reverse: true,
		stale:   StaleAfter(3),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = &dns.Client{Timeout: r.timeout}
	}
	if len(r.servers) == 0 {
		r.servers = serversFromResolvConf()
	}
	return r
}

// WithServers overrides resolv.conf discovery. Values missing a port
// get :53 appended.
func WithServers(servers ...string) Option {
	return func(r *Resolver) {
		for _, server := range servers {
			if server == "" {
				continue
			}
			r.servers = append(r.servers, normalizeServer(server))
		}
	}
}

func WithExchanger(client Exchanger) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithReverse toggles the reverse/forward resolution steps.
func WithReverse(enabled bool) Option {
	return func(r *Resolver) {
		r.reverse = enabled
	}
}

// WithProber enables active probing.
func WithProber(p Prober) Option {
	return func(r *Resolver) {
		r.prober = p
	}
}

func WithStalePredicate(p StalePredicate) Option {
	return func(r *Resolver) {
		if p != nil {
			r.stale = p
		}
	}
}

// Enrich rewrites one transaction's verdicts from current evidence:
// missing PTR/forward caches are looked up, the target's naming
// cross-check becomes the mitm flag, and an attached prober decides
// staleness. Re-running a pass that learns nothing changes nothing.
// Lookup failures leave fields unresolved for the next cycle.
func (r *Resolver) Enrich(db *gorm.DB, transaction *domain.Transaction) error {
	if err := r.resolveHost(db, &transaction.Sender); err != nil {
		return err
	}
	if err := r.resolveHost(db, &transaction.Target); err != nil {
		return err
	}

	transaction.MitmOp = transaction.Target.NamingMismatch()

	if r.prober != nil {
		attempted := true
		mac, err := r.prober.Probe(transaction.Target.IP)
		if err != nil {
			log.Warn("ARP probe failed", "ip", transaction.Target.IP, "error", err)
			attempted = false
		}
		replied := mac != ""
		if replied && transaction.Target.ObserveMAC(mac, time.Now()) {
			if err := database.SaveHost(db, &transaction.Target); err != nil {
				return err
			}
		}
		transaction.Stale = r.stale(transaction.Count, attempted, replied)
	}

	return database.SaveTransactionFlags(db, transaction)
}

// EnrichAll runs Enrich over every stored transaction, for the batch
// path where no dirty set exists.
func (r *Resolver) EnrichAll(db *gorm.DB) error {
	transactions, err := database.GetTransactions(db)
	if err != nil {
		return err
	}
	for i := range transactions {
		if err := r.Enrich(db, &transactions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveHost(db *gorm.DB, host *domain.Host) error {
	if !r.reverse {
		return nil
	}

	changed := false
	if host.PTRName == "" {
		name, err := r.reverseLookup(host.IP)
		if err != nil {
			log.Debug("Reverse lookup failed", "ip", host.IP, "error", err)
		} else if name != "" {
			host.PTRName = name
			changed = true
		}
	}
	if host.PTRName != "" && host.ForwardIP == "" {
		ip, err := r.forwardLookup(host.PTRName)
		if err != nil {
			log.Debug("Forward lookup failed", "name", host.PTRName, "error", err)
		} else if ip != "" {
			host.ForwardIP = ip
			changed = true
		}
	}

	if changed {
		return database.SaveHost(db, host)
	}
	return nil
}

func (r *Resolver) reverseLookup(ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("resolver: reverse address %s: %w", ip, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	reply, err := r.exchange(msg)
	if err != nil {
		return "", err
	}
	if reply.Rcode != dns.RcodeSuccess {
		return "", nil
	}
	for _, answer := range reply.Answer {
		if ptr, ok := answer.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", nil
}

func (r *Resolver) forwardLookup(name string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	reply, err := r.exchange(msg)
	if err != nil {
		return "", err
	}
	if reply.Rcode != dns.RcodeSuccess {
		return "", nil
	}
	for _, answer := range reply.Answer {
		if a, ok := answer.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", nil
}

// exchange walks the server list until one answers.
func (r *Resolver) exchange(msg *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range r.servers {
		reply, _, err := r.client.Exchange(msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		return reply, nil
	}
	return nil, fmt.Errorf("resolver: exchange: %w", lastErr)
}

func serversFromResolvConf() []string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		log.Warn("No usable resolv.conf, defaulting to localhost", "error", err)
		return []string{net.JoinHostPort("127.0.0.1", "53")}
	}

	servers := make([]string, 0, len(conf.Servers))
	for _, server := range conf.Servers {
		servers = append(servers, net.JoinHostPort(server, conf.Port))
	}
	return servers
}

func normalizeServer(server string) string {
	if _, _, err := net.SplitHostPort(server); err != nil {
		return net.JoinHostPort(server, "53")
	}
	return server
}
