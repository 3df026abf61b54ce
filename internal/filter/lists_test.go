package filter

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeIPv4(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		testName string
	}{
		{"192.168.1.10", "192.168.1.10", "plain address"},
		{"10.0.0.999", "", "octet out of range"},
		{"10.0.0", "", "too few octets"},
		{"printer.local", "", "hostname"},
		{"", "", "empty"},
		{"fe80::1", "", "ipv6"},
	}

	for _, tc := range cases {
		if got := NormalizeIPv4(tc.in); got != tc.want {
			t.Errorf("%s: NormalizeIPv4(%q) = %q, want %q", tc.testName, tc.in, got, tc.want)
		}
	}
}

func TestCheckPrecedence(t *testing.T) {
	t.Run("default allow", func(t *testing.T) {
		l := NewLists()
		if !l.Check("10.0.0.1") {
			t.Fatal("Check with empty lists = false, want true")
		}
	})

	t.Run("whitelist requires membership", func(t *testing.T) {
		l := NewLists()
		l.AddWhite("10.0.0.1")
		l.Normalize()
		if !l.Check("10.0.0.1") {
			t.Error("Check(listed) = false, want true")
		}
		if l.Check("10.0.0.2") {
			t.Error("Check(unlisted) = true, want false")
		}
	})

	t.Run("blacklist requires absence", func(t *testing.T) {
		l := NewLists()
		l.AddBlack("10.0.0.1")
		l.Normalize()
		if l.Check("10.0.0.1") {
			t.Error("Check(denied) = true, want false")
		}
		if !l.Check("10.0.0.2") {
			t.Error("Check(other) = false, want true")
		}
	})

	t.Run("whitelist wins over blacklist", func(t *testing.T) {
		l := NewLists()
		l.AddWhite("10.0.0.1")
		l.AddBlack("10.0.0.2")
		l.Normalize()
		// With a non-empty whitelist the blacklist is not consulted.
		if l.Check("10.0.0.3") {
			t.Error("Check(unlisted) = true, want false while whitelist active")
		}
	})
}

func TestNormalizeRemovesConflicts(t *testing.T) {
	l := NewLists()
	l.AddWhite("192.168.1.10")
	l.AddBlack("192.168.1.10")
	l.Normalize()

	white, black := l.Values()
	if len(white) != 0 || len(black) != 0 {
		t.Fatalf("Values() = %v, %v, want both empty after conflict removal", white, black)
	}

	// Both lists ended up empty, so the default-allow rule applies again.
	if !l.Check("192.168.1.10") {
		t.Fatal("Check after conflict removal = false, want true (default allow)")
	}
}

func TestAddDeduplicates(t *testing.T) {
	l := NewLists()
	l.AddWhite("10.0.0.1", "10.0.0.1", "10.0.0.2")
	l.AddWhite("10.0.0.2")
	l.Normalize()

	white, _ := l.Values()
	if len(white) != 2 {
		t.Fatalf("whitelist holds %d entries, want 2: %v", len(white), white)
	}
}

func TestAddFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow.txt")
	content := "10.0.0.1\n  10.0.0.2  \nnot-an-address\n10.0.0.999\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLists()
	l.AddWhite(path)
	l.Normalize()

	white, _ := l.Values()
	want := []string{"10.0.0.1", "10.0.0.2"}
	if len(white) != len(want) {
		t.Fatalf("whitelist = %v, want %v", white, want)
	}
	for i := range want {
		if white[i] != want[i] {
			t.Fatalf("whitelist = %v, want %v", white, want)
		}
	}
}

func TestAddSkipsInvalidValue(t *testing.T) {
	l := NewLists()
	l.AddWhite("no-such-file-or-address")
	l.Normalize()

	if !l.Empty() {
		t.Fatal("invalid value was added to a list")
	}
	// A bad value must not break default allow.
	if !l.Check("10.0.0.1") {
		t.Fatal("Check after invalid add = false, want true")
	}
}
