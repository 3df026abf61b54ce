package resolver

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/arch4ngel/eavesarp/internal/database"
	"github.com/arch4ngel/eavesarp/internal/domain"

	"github.com/miekg/dns"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeExchanger answers PTR/A questions from fixed maps. Keys and
// values are fully qualified (trailing dot); absent keys answer
// NXDOMAIN.
type fakeExchanger struct {
	ptr     map[string]string
	a       map[string]string
	queries int
}

func (f *fakeExchanger) Exchange(msg *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	f.queries++

	question := msg.Question[0]
	reply := new(dns.Msg)
	reply.SetReply(msg)

	switch question.Qtype {
	case dns.TypePTR:
		name, ok := f.ptr[question.Name]
		if !ok {
			reply.Rcode = dns.RcodeNameError
			break
		}
		reply.Answer = append(reply.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 300},
			Ptr: name,
		})
	case dns.TypeA:
		ip, ok := f.a[question.Name]
		if !ok {
			reply.Rcode = dns.RcodeNameError
			break
		}
		reply.Answer = append(reply.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.ParseIP(ip),
		})
	}
	return reply, 0, nil
}

type fakeProber struct {
	mac    string
	err    error
	probes int
}

func (f *fakeProber) Probe(ip string) (string, error) {
	f.probes++
	return f.mac, f.err
}

func setupResolverDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "-", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", name)
	db, err := database.SetupDB(database.WithDialector(sqlite.Open(dsn)))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	return db
}

// seedPair records n requests for 10.0.0.5 asking about 10.0.0.9.
func seedPair(t *testing.T, db *gorm.DB, n int) *domain.Transaction {
	t.Helper()

	var tr *domain.Transaction
	for i := 0; i < n; i++ {
		var err error
		tr, err = database.RecordRequest(db, domain.RequestEvent{
			SenderIP:  "10.0.0.5",
			SenderMAC: "aa:bb:cc:dd:ee:01",
			TargetIP:  "10.0.0.9",
			At:        time.Unix(int64(i+1), 0),
		}, nil)
		if err != nil {
			t.Fatalf("seed request %d: %v", i, err)
		}
	}
	return tr
}

func TestEnrich_ConsistentTarget(t *testing.T) {
	db := setupResolverDB(t)
	tr := seedPair(t, db, 3)

	fake := &fakeExchanger{
		ptr: map[string]string{"9.0.0.10.in-addr.arpa.": "printer.local."},
		a:   map[string]string{"printer.local.": "10.0.0.9"},
	}
	r := New(WithExchanger(fake), WithServers("127.0.0.1"))

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	if tr.MitmOp {
		t.Error("mitm flagged although the name points back at the target")
	}
	if tr.Target.PTRName != "printer.local" || tr.Target.ForwardIP != "10.0.0.9" {
		t.Errorf("target resolution = %q / %q, want printer.local / 10.0.0.9",
			tr.Target.PTRName, tr.Target.ForwardIP)
	}

	// The cache must land in the store, not just the struct.
	var host domain.Host
	if err := db.Where("ip = ?", "10.0.0.9").First(&host).Error; err != nil {
		t.Fatalf("reload target host: %v", err)
	}
	if host.PTRName != "printer.local" {
		t.Errorf("stored PTR = %q, want printer.local", host.PTRName)
	}
}

func TestEnrich_ForwardMismatchFlagsPair(t *testing.T) {
	db := setupResolverDB(t)
	tr := seedPair(t, db, 3)

	fake := &fakeExchanger{
		ptr: map[string]string{"9.0.0.10.in-addr.arpa.": "printer.local."},
		a:   map[string]string{"printer.local.": "10.0.0.50"},
	}
	r := New(WithExchanger(fake), WithServers("127.0.0.1"))

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	if !tr.MitmOp {
		t.Error("mitm not flagged although printer.local resolves to 10.0.0.50")
	}

	var reloaded domain.Transaction
	if err := db.First(&reloaded, tr.ID).Error; err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if !reloaded.MitmOp {
		t.Error("mitm verdict was not persisted")
	}
}

func TestEnrich_UnresolvedTargetStaysUnknown(t *testing.T) {
	db := setupResolverDB(t)
	tr := seedPair(t, db, 3)

	r := New(WithExchanger(&fakeExchanger{}), WithServers("127.0.0.1"))

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	if tr.MitmOp {
		t.Error("mitm flagged with no PTR evidence at all")
	}
	if tr.Target.PTRName != "" {
		t.Errorf("target PTR = %q, want unresolved", tr.Target.PTRName)
	}
}

func TestEnrich_DeadForwardFlagsPair(t *testing.T) {
	db := setupResolverDB(t)
	tr := seedPair(t, db, 3)

	// The name exists in reverse but resolves to nothing.
	fake := &fakeExchanger{
		ptr: map[string]string{"9.0.0.10.in-addr.arpa.": "ghost.local."},
	}
	r := New(WithExchanger(fake), WithServers("127.0.0.1"))

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	if !tr.MitmOp {
		t.Error("mitm not flagged although ghost.local does not resolve")
	}
}

func TestEnrich_SenderMismatchIsSeparate(t *testing.T) {
	db := setupResolverDB(t)
	tr := seedPair(t, db, 3)

	fake := &fakeExchanger{
		ptr: map[string]string{
			"5.0.0.10.in-addr.arpa.": "workstation.local.",
			"9.0.0.10.in-addr.arpa.": "printer.local.",
		},
		a: map[string]string{
			"workstation.local.": "10.0.0.99",
			"printer.local.":     "10.0.0.9",
		},
	}
	r := New(WithExchanger(fake), WithServers("127.0.0.1"))

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	if !tr.Sender.NamingMismatch() {
		t.Error("sender naming mismatch not surfaced")
	}
	if tr.MitmOp {
		t.Error("sender-side mismatch leaked into the pair verdict")
	}
}

func TestEnrich_StaleVerdicts(t *testing.T) {
	cases := []struct {
		name      string
		count     int
		mac       string
		probeErr  error
		wantStale bool
	}{
		{"unanswered at threshold", 3, "", nil, true},
		{"unanswered below threshold", 2, "", nil, false},
		{"target answers", 3, "aa:bb:cc:dd:ee:09", nil, false},
		{"probe could not run", 3, "", errors.New("no ipv4 address"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := setupResolverDB(t)
			tr := seedPair(t, db, tc.count)

			prober := &fakeProber{mac: tc.mac, err: tc.probeErr}
			r := New(
				WithExchanger(&fakeExchanger{}),
				WithServers("127.0.0.1"),
				WithProber(prober),
				WithStalePredicate(StaleAfter(3)),
			)

			if err := r.Enrich(db, tr); err != nil {
				t.Fatalf("enrich: %v", err)
			}

			if prober.probes != 1 {
				t.Fatalf("probes = %d, want 1", prober.probes)
			}
			if tr.Stale != tc.wantStale {
				t.Errorf("stale = %v, want %v", tr.Stale, tc.wantStale)
			}

			if tc.mac != "" && tr.Target.MACAddress != tc.mac {
				t.Errorf("target MAC = %q, want the probe reply %q", tr.Target.MACAddress, tc.mac)
			}
		})
	}
}

func TestEnrich_SecondPassUsesCache(t *testing.T) {
	db := setupResolverDB(t)
	tr := seedPair(t, db, 3)

	fake := &fakeExchanger{
		ptr: map[string]string{
			"5.0.0.10.in-addr.arpa.": "workstation.local.",
			"9.0.0.10.in-addr.arpa.": "printer.local.",
		},
		a: map[string]string{
			"workstation.local.": "10.0.0.5",
			"printer.local.":     "10.0.0.9",
		},
	}
	r := New(WithExchanger(fake), WithServers("127.0.0.1"))

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("first enrich: %v", err)
	}
	afterFirst := fake.queries
	if afterFirst != 4 {
		t.Fatalf("first pass made %d queries, want 4", afterFirst)
	}

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("second enrich: %v", err)
	}
	if fake.queries != afterFirst {
		t.Errorf("second pass made %d extra queries, want 0", fake.queries-afterFirst)
	}
	if tr.MitmOp {
		t.Error("second pass changed the verdict")
	}
}

func TestEnrich_ReverseDisabled(t *testing.T) {
	db := setupResolverDB(t)
	tr := seedPair(t, db, 1)

	fake := &fakeExchanger{
		ptr: map[string]string{"9.0.0.10.in-addr.arpa.": "printer.local."},
	}
	r := New(WithExchanger(fake), WithServers("127.0.0.1"), WithReverse(false))

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	if fake.queries != 0 {
		t.Errorf("made %d queries with reverse resolution disabled", fake.queries)
	}
	if tr.Target.PTRName != "" {
		t.Errorf("target PTR = %q, want untouched", tr.Target.PTRName)
	}
}

func TestEnrichAll(t *testing.T) {
	db := setupResolverDB(t)
	seedPair(t, db, 2)
	if _, err := database.RecordRequest(db, domain.RequestEvent{
		SenderIP:  "10.0.0.6",
		SenderMAC: "aa:bb:cc:dd:ee:06",
		TargetIP:  "10.0.0.9",
		At:        time.Unix(9, 0),
	}, nil); err != nil {
		t.Fatalf("seed second pair: %v", err)
	}

	fake := &fakeExchanger{
		ptr: map[string]string{"9.0.0.10.in-addr.arpa.": "printer.local."},
		a:   map[string]string{"printer.local.": "10.0.0.50"},
	}
	r := New(WithExchanger(fake), WithServers("127.0.0.1"))

	if err := r.EnrichAll(db); err != nil {
		t.Fatalf("enrich all: %v", err)
	}

	transactions, err := database.GetTransactions(db)
	if err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(transactions))
	}
	for _, tr := range transactions {
		if !tr.MitmOp {
			t.Errorf("pair %s -> %s not flagged", tr.Sender.IP, tr.Target.IP)
		}
	}
}

func TestExchangeWalksServerList(t *testing.T) {
	db := setupResolverDB(t)
	tr := seedPair(t, db, 1)

	inner := &fakeExchanger{
		ptr: map[string]string{"9.0.0.10.in-addr.arpa.": "printer.local."},
		a:   map[string]string{"printer.local.": "10.0.0.9"},
	}
	flaky := &flakyExchanger{good: "10.0.0.200:53", inner: inner}
	r := New(WithExchanger(flaky), WithServers("10.0.0.100", "10.0.0.200"))

	if err := r.Enrich(db, tr); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if tr.Target.PTRName != "printer.local" {
		t.Errorf("target PTR = %q, want printer.local via the second server", tr.Target.PTRName)
	}
}

type flakyExchanger struct {
	good  string
	inner *fakeExchanger
}

func (f *flakyExchanger) Exchange(msg *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	if address != f.good {
		return nil, 0, errors.New("connection refused")
	}
	return f.inner.Exchange(msg, address)
}

func TestWithServersNormalizesPorts(t *testing.T) {
	r := New(WithExchanger(&fakeExchanger{}), WithServers("10.1.1.1", "10.1.1.2:5353"))

	want := []string{"10.1.1.1:53", "10.1.1.2:5353"}
	if len(r.servers) != len(want) {
		t.Fatalf("servers = %v, want %v", r.servers, want)
	}
	for i := range want {
		if r.servers[i] != want[i] {
			t.Fatalf("servers = %v, want %v", r.servers, want)
		}
	}
}
