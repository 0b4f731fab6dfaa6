package connectors

import (
	"strings"
	"testing"
	"time"

	"github.com/username/wealthos/backend/src/models"
)

func TestSanitizeAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		visible int
		want    string
	}{
		{"empty", "", 4, "<not set>"},
		{"short key fully masked", "abcdef", 4, "******"},
		{"long key keeps edges", "abcdefghijklmnop", 4, "abcd...mnop"},
		{"boundary length masked", "abcdefgh", 4, "********"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeAPIKey(tt.key, tt.visible); got != tt.want {
				t.Errorf("SanitizeAPIKey(%q, %d) = %q, want %q", tt.key, tt.visible, got, tt.want)
			}
		})
	}
}

func TestGenerateSourceIDNativeID(t *testing.T) {
	got := GenerateSourceID("binance", "12345", time.Now(), "BTC", models.TypeBuy, 0.5)
	if got != "binance_12345" {
		t.Errorf("GenerateSourceID = %q, want binance_12345", got)
	}
}

func TestGenerateSourceIDContentHash(t *testing.T) {
	date := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

	a := GenerateSourceID("chase", "", date, "AAPL", models.TypeDividend, 1500.25)
	b := GenerateSourceID("chase", "", date, "AAPL", models.TypeDividend, 1500.25)
	if a != b {
		t.Errorf("hash not stable across calls: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "chase_") {
		t.Errorf("id %q missing source prefix", a)
	}

	if c := GenerateSourceID("chase", "", date, "AAPL", models.TypeDividend, 1500.26); c == a {
		t.Error("different amounts produced the same id")
	}
	if d := GenerateSourceID("chase", "", date, "MSFT", models.TypeDividend, 1500.25); d == a {
		t.Error("different symbols produced the same id")
	}
	if e := GenerateSourceID("fidelity", "", date, "AAPL", models.TypeDividend, 1500.25); e == a {
		t.Error("different sources produced the same id")
	}
	if f := GenerateSourceID("chase", "", date, "AAPL", models.TypeFee, 1500.25); f == a {
		t.Error("different transaction types produced the same id")
	}
}

func TestGenerateSourceIDZeroDate(t *testing.T) {
	a := GenerateSourceID("bank", "", time.Time{}, "", models.TypeDeposit, 100.0)
	b := GenerateSourceID("bank", "", time.Time{}, "", models.TypeDeposit, 100.0)
	if a != b {
		t.Error("zero-date hash not stable")
	}
	if !strings.HasPrefix(a, "bank_") {
		t.Errorf("id %q missing source prefix", a)
	}
}
