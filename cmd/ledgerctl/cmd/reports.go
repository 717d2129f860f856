package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/shop-ledger/internal/ledger"
)

type rangeFlags struct {
	from, to string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "last date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func (f *rangeFlags) parse() (ledger.DateRange, error) {
	from, err := ledger.ParseDate(f.from)
	if err != nil {
		return ledger.DateRange{}, fmt.Errorf("--from: %w", err)
	}
	to, err := ledger.ParseDate(f.to)
	if err != nil {
		return ledger.DateRange{}, fmt.Errorf("--to: %w", err)
	}
	r := ledger.DateRange{From: from, To: to}
	return r, r.Validate()
}

func parseClientID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid client id %q", arg)
	}
	return id, nil
}

func newStatementCmd(o *options) *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "statement <client-id>",
		Short: "Print a client's statement for a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseClientID(args[0])
			if err != nil {
				return err
			}
			r, err := rf.parse()
			if err != nil {
				return err
			}
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				st, err := s.engine.BuildStatement(ctx, id, r)
				if err != nil {
					return err
				}
				return o.print(cmd, o.writer().Statement(st))
			})
		},
	}
	rf.register(cmd)
	return cmd
}

func newSummaryCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print debit and credit totals",
	}

	var daily, monthly, span rangeFlags
	dailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Totals per day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := daily.parse()
			if err != nil {
				return err
			}
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				rows, err := s.engine.AggregateByDate(ctx, r)
				if err != nil {
					return err
				}
				return o.print(cmd, o.writer().Daily(rows))
			})
		},
	}
	daily.register(dailyCmd)

	monthlyCmd := &cobra.Command{
		Use:   "monthly",
		Short: "Totals per calendar month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := monthly.parse()
			if err != nil {
				return err
			}
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				rows, err := s.engine.AggregateByMonth(ctx, r)
				if err != nil {
					return err
				}
				return o.print(cmd, o.writer().Monthly(rows))
			})
		},
	}
	monthly.register(monthlyCmd)

	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Totals per account over the whole ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				rows, err := s.engine.AggregateByAccount(ctx)
				if err != nil {
					return err
				}
				return o.print(cmd, o.writer().Accounts(rows))
			})
		},
	}

	rangeCmd := &cobra.Command{
		Use:   "range",
		Short: "One total for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := span.parse()
			if err != nil {
				return err
			}
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				sum, err := summarizeRange(ctx, s, r)
				if err != nil {
					return err
				}
				return o.print(cmd, o.writer().Range(sum))
			})
		},
	}
	span.register(rangeCmd)

	cmd.AddCommand(dailyCmd, monthlyCmd, accountsCmd, rangeCmd)
	return cmd
}

// summarizeRange folds the daily rows when only the gRPC surface is
// available.
func summarizeRange(ctx context.Context, s *session, r ledger.DateRange) (*ledger.RangeSummary, error) {
	if s.local != nil {
		return s.local.SummarizeRange(ctx, r)
	}
	days, err := s.engine.AggregateByDate(ctx, r)
	if err != nil {
		return nil, err
	}
	sum := &ledger.RangeSummary{From: r.From, To: r.To}
	for _, d := range days {
		sum.TransactionCount += d.TransactionCount
		sum.TotalDebit = sum.TotalDebit.Add(d.TotalDebit)
		sum.TotalCredit = sum.TotalCredit.Add(d.TotalCredit)
	}
	return sum, nil
}

func newBalancesCmd(o *options, which string) *cobra.Command {
	short := "List clients who owe the shop"
	title := "Debtors"
	if which == "creditors" {
		short = "List clients the shop owes"
		title = "Creditors"
	}
	return &cobra.Command{
		Use:   which,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				c, err := s.engine.ClassifyClients(ctx)
				if err != nil {
					return err
				}
				rows := c.Debtors
				if which == "creditors" {
					rows = c.Creditors
				}
				return o.print(cmd, o.writer().Balances(title, rows))
			})
		},
	}
}
