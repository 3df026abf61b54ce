package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Profile is a named set of styles applied to rendered tables. The
// disable profile keeps the layout but drops every escape sequence, so
// output stays grep-friendly when written to files.
type Profile struct {
	Name   string
	Header lipgloss.Style
	Odd    lipgloss.Style
	Even   lipgloss.Style
	Alert  lipgloss.Style
}

var cell = lipgloss.NewStyle().Padding(0, 1)

var profiles = map[string]Profile{
	"default": {
		Name:   "default",
		Header: cell.Bold(true).Foreground(lipgloss.Color("39")),
		Odd:    cell.Foreground(lipgloss.Color("252")),
		Even:   cell.Foreground(lipgloss.Color("245")),
		Alert:  cell.Bold(true).Foreground(lipgloss.Color("203")),
	},
	"disable": {
		Name:   "disable",
		Header: cell,
		Odd:    cell,
		Even:   cell,
		Alert:  cell,
	},
}

// DefaultProfile styles interactive output.
func DefaultProfile() Profile { return profiles["default"] }

// PlainProfile renders without color, used for analysis files.
func PlainProfile() Profile { return profiles["disable"] }

// LookupProfile resolves a profile by flag value.
func LookupProfile(name string) (Profile, error) {
	profile, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("report: invalid color profile %q (valid values: %s)",
			name, strings.Join(ProfileNames(), ","))
	}
	return profile, nil
}

// ProfileNames lists the registered profiles for flag help output.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
