package report

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/arch4ngel/eavesarp/internal/domain"
)

// EmptyNotice replaces the table when no transaction survived the
// configured filters.
const EmptyNotice = "- No accepted ARP requests captured\n" +
	"- If this is unexpected, check your whitelist/blacklist configuration"

type renderedRow struct {
	cells []string
	alert map[int]bool
}

// Render formats transactions as the operator table. Rows cluster by
// sender in order of first appearance, repeated sender fields blank
// out on continuation rows, and sender groups alternate stripes. The
// stale and mitm cells carry the alert style when set.
func Render(transactions []domain.Transaction, columns []Column, profile Profile) string {
	if len(transactions) == 0 {
		return EmptyNotice
	}

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.Label
	}

	var groupOrder []string
	groups := make(map[string][]renderedRow)
	for _, tr := range transactions {
		rows, seen := groups[tr.Sender.IP]
		if !seen {
			groupOrder = append(groupOrder, tr.Sender.IP)
		}
		row := renderedRow{cells: make([]string, len(columns)), alert: make(map[int]bool)}
		for c, col := range columns {
			row.cells[c] = col.Value(tr, !seen)
			if (col.ID == "stale" && tr.Stale) || (col.ID == "mitm_op" && tr.MitmOp) {
				row.alert[c] = true
			}
		}
		groups[tr.Sender.IP] = append(rows, row)
	}

	var flat []renderedRow
	var oddGroup []bool
	for i, sender := range groupOrder {
		odd := i%2 == 0
		for _, row := range groups[sender] {
			flat = append(flat, row)
			oddGroup = append(oddGroup, odd)
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderRow(false).
		BorderHeader(true).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return profile.Header
			}
			r := row - 1
			if r < 0 || r >= len(flat) {
				return cell
			}
			if flat[r].alert[col] {
				return profile.Alert
			}
			if oddGroup[r] {
				return profile.Odd
			}
			return profile.Even
		})
	for _, row := range flat {
		t.Row(row.cells...)
	}
	return t.String()
}
