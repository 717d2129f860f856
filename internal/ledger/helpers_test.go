package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func entry(id, clientID int64, date string, dr, cr string) Transaction {
	return Transaction{
		ID:       id,
		ClientID: clientID,
		Date:     MustParseDate(date),
		Account:  AccountCash,
		Debit:    dec(dr),
		Credit:   dec(cr),
	}
}

func dateRange(from, to string) DateRange {
	return DateRange{From: MustParseDate(from), To: MustParseDate(to)}
}
