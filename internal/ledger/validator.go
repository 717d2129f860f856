package ledger

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// NetCreditPolicy decides what happens to a positive credit submitted on a
// Net entry.
type NetCreditPolicy string

const (
	// NetCreditNormalize zeroes the credit, like every other disallowed amount.
	NetCreditNormalize NetCreditPolicy = "normalize"
	// NetCreditReject fails the write with a ValidationError.
	NetCreditReject NetCreditPolicy = "reject"
)

// ParseNetCreditPolicy maps a config value to a policy. Empty means normalize.
func ParseNetCreditPolicy(s string) (NetCreditPolicy, error) {
	switch p := NetCreditPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", NetCreditNormalize:
		return NetCreditNormalize, nil
	case NetCreditReject:
		return p, nil
	}
	return "", fmt.Errorf("unknown net credit policy %q (want normalize or reject)", s)
}

const (
	maxClientNameLen = 255
	maxAccountLen    = 50
)

var mobilePattern = regexp.MustCompile(`^[0-9]{10}$`)

// Validator checks and normalizes write inputs before they reach a Store.
type Validator struct {
	policy NetCreditPolicy
}

// NewValidator creates a validator with the given Net credit policy.
func NewValidator(policy NetCreditPolicy) *Validator {
	if policy == "" {
		policy = NetCreditNormalize
	}
	return &Validator{policy: policy}
}

// Policy reports the configured Net credit policy.
func (v *Validator) Policy() NetCreditPolicy { return v.policy }

// NormalizeClient trims text fields and checks them.
func (v *Validator) NormalizeClient(in ClientInput) (ClientInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ShopName = strings.TrimSpace(in.ShopName)
	in.Mobile = strings.TrimSpace(in.Mobile)
	in.City = strings.TrimSpace(in.City)

	if in.Name == "" {
		return in, &ValidationError{Field: "client_name", Message: "client name is required"}
	}
	if utf8.RuneCountInString(in.Name) > maxClientNameLen {
		return in, &ValidationError{Field: "client_name", Message: fmt.Sprintf("client name must be at most %d characters", maxClientNameLen)}
	}
	if in.Mobile != "" && !mobilePattern.MatchString(in.Mobile) {
		return in, &ValidationError{Field: "mobile_number", Message: "mobile number must be exactly 10 digits"}
	}
	return in, nil
}

// NormalizeTransaction checks the input and applies the account-tag rule:
// Net entries carry no credit, No NET entries carry no amounts at all.
func (v *Validator) NormalizeTransaction(in TransactionInput) (TransactionInput, error) {
	in.Account = AccountTag(strings.TrimSpace(string(in.Account)))

	if in.Date.IsZero() {
		return in, &ValidationError{Field: "date", Message: "date is required"}
	}
	if in.Account == "" {
		return in, &ValidationError{Field: "account", Message: "account is required"}
	}
	if utf8.RuneCountInString(string(in.Account)) > maxAccountLen {
		return in, &ValidationError{Field: "account", Message: fmt.Sprintf("account must be at most %d characters", maxAccountLen)}
	}
	if in.Debit.IsNegative() {
		return in, &ValidationError{Field: "dr", Message: "debit must not be negative"}
	}
	if in.Credit.IsNegative() {
		return in, &ValidationError{Field: "cr", Message: "credit must not be negative"}
	}

	switch in.Account {
	case AccountNet:
		if in.Credit.IsPositive() && v.policy == NetCreditReject {
			return in, &ValidationError{Field: "cr", Message: "Net entries cannot have a credit amount"}
		}
		in.Credit = decimal.Zero
	case AccountNoNet:
		in.Debit = decimal.Zero
		in.Credit = decimal.Zero
	}
	return in, nil
}

// ValidateNetCompletion checks the amount and narration used to turn a
// No NET placeholder into a Net entry.
func (v *Validator) ValidateNetCompletion(current Transaction, debit decimal.Decimal, particulars string) error {
	if current.Account != AccountNoNet {
		return &ValidationError{Field: "account", Message: fmt.Sprintf("transaction %d is %q, only %q entries can be completed", current.ID, current.Account, AccountNoNet)}
	}
	if !debit.IsPositive() {
		return &ValidationError{Field: "dr", Message: "debit must be greater than zero"}
	}
	if strings.TrimSpace(particulars) == "" {
		return &ValidationError{Field: "particulars", Message: "particulars are required"}
	}
	return nil
}

// ValidationResult reports the outcome of a consistency check.
type ValidationResult struct {
	IsValid        bool           `json:"is_valid"`
	ValidationType string         `json:"validation_type"`
	Message        string         `json:"message"`
	ClientID       int64          `json:"client_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Details        map[string]any `json:"details,omitempty"`
}

// CheckStoredBalances compares each entry's cached Balance with the balance
// recomputed from opening. entries must be in ledger order.
func CheckStoredBalances(clientID int64, opening decimal.Decimal, entries []Transaction) *ValidationResult {
	var drifted []int64
	for _, e := range Accumulate(opening, entries) {
		if !e.Balance.Equal(e.RunningBalance) {
			drifted = append(drifted, e.ID)
		}
	}
	if len(drifted) > 0 {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "balance_consistency",
			Message:        fmt.Sprintf("%d of %d stored balances differ from the recomputed ledger", len(drifted), len(entries)),
			ClientID:       clientID,
			Timestamp:      time.Now(),
			Details: map[string]any{
				"drifted_transaction_ids": drifted,
			},
		}
	}
	return &ValidationResult{
		IsValid:        true,
		ValidationType: "balance_consistency",
		Message:        fmt.Sprintf("all %d stored balances are consistent", len(entries)),
		ClientID:       clientID,
		Timestamp:      time.Now(),
	}
}
