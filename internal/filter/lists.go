package filter

import (
	"bufio"
	"net"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

// Two Lists instances exist per run, one for sender addresses and one for
// target addresses. Global allow/deny arguments feed both.

var ipv4Pattern = regexp.MustCompile(`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`)

// Lists pairs an allow set with a deny set for one address role.
type Lists struct {
	white map[string]struct{}
	black map[string]struct{}
}

func NewLists() *Lists {
	return &Lists{
		white: make(map[string]struct{}),
		black: make(map[string]struct{}),
	}
}

// AddWhite adds values to the allow set. Each value is either a literal
// dotted-quad IPv4 address or a path to a file holding one address per line.
// Anything else is skipped with a warning; filter input never aborts a run.
func (l *Lists) AddWhite(values ...string) {
	addInto(l.white, values)
}

// AddBlack adds values to the deny set under the same rules as AddWhite.
func (l *Lists) AddBlack(values ...string) {
	addInto(l.black, values)
}

// Normalize enforces the mutual-exclusion invariant: an address present in
// both sets is deleted from both. Call it after every batch of adds.
func (l *Lists) Normalize() {
	var conflicts []string
	for ip := range l.white {
		if _, ok := l.black[ip]; ok {
			conflicts = append(conflicts, ip)
		}
	}
	for _, ip := range conflicts {
		delete(l.white, ip)
		delete(l.black, ip)
		log.Warn("Address present in both allow and deny list, dropping from both", "ip", ip)
	}
}

// Check reports whether an address is in scope. A non-empty allow set
// requires membership; otherwise a non-empty deny set requires absence;
// otherwise everything is allowed.
func (l *Lists) Check(ip string) bool {
	if len(l.white) > 0 {
		_, ok := l.white[ip]
		return ok
	}
	if len(l.black) > 0 {
		_, ok := l.black[ip]
		return !ok
	}
	return true
}

func (l *Lists) Empty() bool {
	return len(l.white) == 0 && len(l.black) == 0
}

// Values returns both sets as sorted slices.
func (l *Lists) Values() (white, black []string) {
	return sortedKeys(l.white), sortedKeys(l.black)
}

func addInto(set map[string]struct{}, values []string) {
	for _, value := range values {
		if ip := NormalizeIPv4(value); ip != "" {
			set[ip] = struct{}{}
			continue
		}
		if addrs, err := addressesFromFile(value); err == nil {
			for _, ip := range addrs {
				set[ip] = struct{}{}
			}
			continue
		}
		log.Warn("Invalid IPv4 address and unknown file, skipping", "value", value)
	}
}

// NormalizeIPv4 returns the canonical dotted-quad form of a strict IPv4
// literal, or "" when the value is not one.
func NormalizeIPv4(raw string) string {
	if !ipv4Pattern.MatchString(raw) {
		return ""
	}
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return ""
	}
	ipv4 := parsed.To4()
	if ipv4 == nil {
		return ""
	}
	return ipv4.String()
}

// addressesFromFile reads one address per line, skipping lines that are not
// strict IPv4 literals.
func addressesFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addrs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if ip := NormalizeIPv4(strings.TrimSpace(sc.Text())); ip != "" {
			addrs = append(addrs, ip)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return addrs, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
