package app

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/arch4ngel/eavesarp/internal/database"
	"github.com/arch4ngel/eavesarp/internal/domain"
	"github.com/arch4ngel/eavesarp/internal/filter"
	"github.com/arch4ngel/eavesarp/internal/report"
)

const clearScreen = "\x1b[2J\x1b[H"

// visibleTransactions loads everything and re-applies the filters at
// render time, so rows recorded before a list change drop out of the
// display without touching the database.
func visibleTransactions(db *gorm.DB, sender, target *filter.Lists) ([]domain.Transaction, error) {
	transactions, err := database.GetTransactions(db)
	if err != nil {
		return nil, err
	}
	var visible []domain.Transaction
	for _, tr := range transactions {
		if sender.Check(tr.Sender.IP) && target.Check(tr.Target.IP) {
			visible = append(visible, tr)
		}
	}
	return visible, nil
}

// redraw clears the terminal and prints the current table.
func redraw(db *gorm.DB, sender, target *filter.Lists, columns []report.Column, profile report.Profile) error {
	visible, err := visibleTransactions(db, sender, target)
	if err != nil {
		return err
	}
	fmt.Print(clearScreen)
	fmt.Println(report.Render(visible, columns, profile))
	return nil
}

// writeAnalysis renders the table without color and writes it to path.
func writeAnalysis(db *gorm.DB, path string, sender, target *filter.Lists, columns []report.Column) error {
	visible, err := visibleTransactions(db, sender, target)
	if err != nil {
		return err
	}
	rendered := report.Render(visible, columns, report.PlainProfile())
	if err := os.WriteFile(path, []byte(rendered+"\n"), 0o644); err != nil {
		return fmt.Errorf("app: write analysis file: %w", err)
	}
	return nil
}
