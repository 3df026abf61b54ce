package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arch4ngel/eavesarp/internal/domain"
)

// Column is one selectable output field: its flag name, the header
// label, and how to print a cell. Sender-side cells blank out on
// continuation rows of a sender group.
type Column struct {
	ID    string
	Label string
	Value func(tr domain.Transaction, firstOfGroup bool) string
}

// DefaultColumns is the column order used when the caller selects
// nothing.
var DefaultColumns = []string{
	"arp_count",
	"sender",
	"target",
	"stale",
	"sender_ptr",
	"target_ptr",
	"mitm_op",
}

func registry() []Column {
	return []Column{
		{
			ID:    "arp_count",
			Label: "ARP#",
			Value: func(tr domain.Transaction, _ bool) string {
				return strconv.FormatUint(tr.Count, 10)
			},
		},
		{
			ID:    "sender",
			Label: "Sender",
			Value: func(tr domain.Transaction, first bool) string {
				if !first {
					return ""
				}
				return tr.Sender.IP
			},
		},
		{
			ID:    "sender_mac",
			Label: "Sender MAC",
			Value: func(tr domain.Transaction, first bool) string {
				if !first {
					return ""
				}
				return tr.Sender.MACAddress
			},
		},
		{
			ID:    "target",
			Label: "Target",
			Value: func(tr domain.Transaction, _ bool) string {
				return tr.Target.IP
			},
		},
		{
			ID:    "target_mac",
			Label: "Target MAC",
			Value: func(tr domain.Transaction, _ bool) string {
				return tr.Target.MACAddress
			},
		},
		{
			ID:    "stale",
			Label: "Stale",
			Value: func(tr domain.Transaction, _ bool) string {
				return flagCell(tr.Stale)
			},
		},
		{
			ID:    "sender_ptr",
			Label: "Sender PTR (PTR > FWD)",
			Value: func(tr domain.Transaction, first bool) string {
				if !first {
					return ""
				}
				return ptrCell(tr.Sender)
			},
		},
		{
			ID:    "target_ptr",
			Label: "Target PTR (PTR > FWD)",
			Value: func(tr domain.Transaction, _ bool) string {
				return ptrCell(tr.Target)
			},
		},
		{
			ID:    "mitm_op",
			Label: "Target IP != Forward IP",
			Value: func(tr domain.Transaction, _ bool) string {
				return flagCell(tr.MitmOp)
			},
		},
	}
}

// ResolveColumns maps requested column names onto registry entries,
// keeping the caller's order. Unknown names are rejected together with
// the list of valid values, before any processing starts.
func ResolveColumns(names []string) ([]Column, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("report: output columns are required")
	}

	all := registry()
	byID := make(map[string]Column, len(all))
	valid := make([]string, 0, len(all))
	for _, col := range all {
		byID[col.ID] = col
		valid = append(valid, col.ID)
	}

	columns := make([]Column, 0, len(names))
	var bad []string
	for _, name := range names {
		col, ok := byID[name]
		if !ok {
			bad = append(bad, name)
			continue
		}
		columns = append(columns, col)
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("report: invalid column values provided: %s (valid values: %s)",
			strings.Join(bad, ","), strings.Join(valid, ","))
	}
	return columns, nil
}

func flagCell(set bool) string {
	if set {
		return "True"
	}
	return ""
}

// ptrCell shows the cached name, extended with the forward result
// when that result points somewhere else.
func ptrCell(host domain.Host) string {
	if host.PTRName == "" {
		return ""
	}
	if host.ForwardIP != "" && host.ForwardIP != host.IP {
		return host.PTRName + " > " + host.ForwardIP
	}
	return host.PTRName
}
