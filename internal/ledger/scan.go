package ledger

import "strings"

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*Client, error) {
	var c Client
	if err := row.Scan(&c.ID, &c.Name, &c.ShopName, &c.Mobile, &c.City, &c.OpeningBalance, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var account string
	err := row.Scan(&t.ID, &t.ClientID, &t.Date, &account, &t.Particulars,
		&t.Debit, &t.Credit, &t.Balance, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Account = AccountTag(account)
	return &t, nil
}

func scanJoinedTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var account string
	err := row.Scan(&t.ID, &t.ClientID, &t.Date, &account, &t.Particulars,
		&t.Debit, &t.Credit, &t.Balance, &t.CreatedAt, &t.ClientName, &t.ShopName)
	if err != nil {
		return nil, err
	}
	t.Account = AccountTag(account)
	return &t, nil
}

// likePattern wraps q for a substring LIKE match, escaping wildcards with '\'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
