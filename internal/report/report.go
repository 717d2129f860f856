// Package report renders ledger results as Markdown tables for the CLI.
package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	md "github.com/nao1215/markdown"
	"github.com/shopspring/decimal"

	"github.com/example/shop-ledger/internal/ledger"
)

// DefaultCurrency is used for display only; amounts are stored unitless.
const DefaultCurrency = money.INR

// Writer formats amounts in one currency.
type Writer struct {
	currency *money.Currency
}

// New returns a Writer for the ISO currency code. Unknown codes fall back
// to DefaultCurrency.
func New(code string) *Writer {
	cur := money.GetCurrency(strings.ToUpper(code))
	if cur == nil {
		cur = money.GetCurrency(DefaultCurrency)
	}
	return &Writer{currency: cur}
}

// Amount formats d with the currency symbol and grouping, e.g. ₹1,234.50.
// Negative amounts get a leading minus.
func (w *Writer) Amount(d decimal.Decimal) string {
	minor := d.Abs().Shift(int32(w.currency.Fraction)).Round(0).IntPart()
	s := w.currency.Formatter().Format(minor)
	if d.IsNegative() && minor != 0 {
		return "-" + s
	}
	return s
}

// Balance formats a running balance with its Dr/Cr side, the way a ledger
// book shows it.
func (w *Writer) Balance(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return w.Amount(d) + " Dr"
	case -1:
		return w.Amount(d.Abs()) + " Cr"
	}
	return w.Amount(d)
}

func (w *Writer) Statement(st *ledger.Statement) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)

	title := st.Client.Name
	if st.Client.ShopName != "" {
		title += " (" + st.Client.ShopName + ")"
	}
	doc.H1("Statement: " + cell(title))
	doc.PlainText(fmt.Sprintf("Period %s to %s", st.Range.From, st.Range.To))

	rows := [][]string{{"", "", "Brought forward", "", "", w.Balance(st.BroughtForward)}}
	for _, r := range st.Rows {
		rows = append(rows, []string{
			r.Date.String(), cell(string(r.Account)), cell(r.Particulars),
			w.nonZero(r.Debit), w.nonZero(r.Credit), w.Balance(r.RunningBalance),
		})
	}
	rows = append(rows, []string{
		"", "", md.Bold("Total"), w.Amount(st.TotalDebit), w.Amount(st.TotalCredit), md.Bold(w.Balance(st.ClosingBalance)),
	})
	doc.Table(md.TableSet{
		Alignment: align(3, 3),
		Header:    []string{"Date", "Account", "Particulars", "Dr", "Cr", "Balance"},
		Rows:      rows,
	})
	return doc.String()
}

func (w *Writer) Daily(rows []ledger.DailySummary) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1("Daily summary")
	table := md.TableSet{Alignment: align(1, 3), Header: []string{"Date", "Entries", "Dr", "Cr"}}
	for _, r := range rows {
		table.Rows = append(table.Rows, []string{r.Date.String(), strconv.Itoa(r.TransactionCount), w.Amount(r.TotalDebit), w.Amount(r.TotalCredit)})
	}
	doc.Table(table)
	return doc.String()
}

func (w *Writer) Monthly(rows []ledger.MonthlySummary) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1("Monthly summary")
	table := md.TableSet{Alignment: align(1, 3), Header: []string{"Month", "Entries", "Dr", "Cr"}}
	for _, r := range rows {
		table.Rows = append(table.Rows, []string{r.Month.Time().Format("2006-01"), strconv.Itoa(r.TransactionCount), w.Amount(r.TotalDebit), w.Amount(r.TotalCredit)})
	}
	doc.Table(table)
	return doc.String()
}

func (w *Writer) Accounts(rows []ledger.AccountSummary) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1("By account")
	table := md.TableSet{Alignment: align(1, 3), Header: []string{"Account", "Entries", "Dr", "Cr"}}
	for _, r := range rows {
		table.Rows = append(table.Rows, []string{cell(string(r.Account)), strconv.Itoa(r.TransactionCount), w.Amount(r.TotalDebit), w.Amount(r.TotalCredit)})
	}
	doc.Table(table)
	return doc.String()
}

func (w *Writer) Range(s *ledger.RangeSummary) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1(fmt.Sprintf("Summary %s to %s", s.From, s.To))
	doc.Table(md.TableSet{
		Alignment: align(0, 4),
		Header:    []string{"Entries", "Dr", "Cr", "Net"},
		Rows: [][]string{{
			strconv.Itoa(s.TransactionCount), w.Amount(s.TotalDebit), w.Amount(s.TotalCredit), w.Balance(s.TotalDebit.Sub(s.TotalCredit)),
		}},
	})
	return doc.String()
}

// Balances lists clients with their current balance under title.
func (w *Writer) Balances(title string, rows []ledger.ClientBalance) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1(title)
	if len(rows) == 0 {
		doc.PlainText(md.Italic("None."))
		return doc.String()
	}
	table := md.TableSet{
		Alignment: []md.TableAlignment{md.AlignRight, md.AlignLeft, md.AlignLeft, md.AlignLeft, md.AlignRight},
		Header:    []string{"ID", "Client", "Shop", "City", "Balance"},
	}
	total := decimal.Zero
	for _, r := range rows {
		table.Rows = append(table.Rows, []string{strconv.FormatInt(r.ID, 10), cell(r.Name), cell(r.ShopName), cell(r.City), w.Balance(r.CurrentBalance)})
		total = total.Add(r.CurrentBalance)
	}
	table.Rows = append(table.Rows, []string{"", md.Bold("Total"), "", "", md.Bold(w.Balance(total))})
	doc.Table(table)
	return doc.String()
}

func (w *Writer) Recalculations(results []ledger.RecalculationResult) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1("Recalculated balances")
	table := md.TableSet{Alignment: align(0, 3), Header: []string{"Client", "Entries", "Closing balance"}}
	for _, r := range results {
		table.Rows = append(table.Rows, []string{strconv.FormatInt(r.ClientID, 10), strconv.Itoa(r.TransactionCount), w.Balance(r.ClosingBalance)})
	}
	doc.Table(table)
	return doc.String()
}

// Verification reports the outcome of a stored-balance check.
func (w *Writer) Verification(res *ledger.ValidationResult) string {
	mark := "OK"
	if !res.IsValid {
		mark = "MISMATCH"
	}
	return fmt.Sprintf("%s client %d: %s", md.Bold(mark), res.ClientID, res.Message)
}

// Verifications lists several checks, one bullet each.
func (w *Writer) Verifications(results []*ledger.ValidationResult) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)
	doc.H1("Balance check")
	if len(results) == 0 {
		doc.PlainText(md.Italic("No clients."))
		return doc.String()
	}
	lines := make([]string, len(results))
	for i, res := range results {
		lines[i] = w.Verification(res)
	}
	doc.BulletList(lines...)
	return doc.String()
}

func (w *Writer) nonZero(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return w.Amount(d)
}

// Render pretty-prints Markdown for a terminal.
func Render(markdown string, wordWrap int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}

// align returns left alignment for the first left columns and right
// alignment for the next right ones.
func align(left, right int) []md.TableAlignment {
	out := make([]md.TableAlignment, 0, left+right)
	for i := 0; i < left; i++ {
		out = append(out, md.AlignLeft)
	}
	for i := 0; i < right; i++ {
		out = append(out, md.AlignRight)
	}
	return out
}

// cell keeps free text from breaking the table.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
