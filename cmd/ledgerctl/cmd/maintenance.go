package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/shop-ledger/internal/ledger"
)

func newRecalcCmd(o *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recalc [client-id]",
		Short: "Recompute stored running balances",
		Long: `Recompute and store the running balance of every entry for one client,
or for every client with --all. Safe to run while the API is serving.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("pass a client id or --all, not both")
			}
			if !all && len(args) != 1 {
				return errors.New("pass a client id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				var results []ledger.RecalculationResult
				if all {
					if err := s.requireLocal("recalc --all"); err != nil {
						return err
					}
					var err error
					if results, err = s.local.RecalculateAll(ctx); err != nil {
						return err
					}
				} else {
					id, err := parseClientID(args[0])
					if err != nil {
						return err
					}
					res, err := s.engine.RecalculateClientBalances(ctx, id)
					if err != nil {
						return err
					}
					results = append(results, *res)
				}
				return o.print(cmd, o.writer().Recalculations(results))
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "recalculate every client")
	return cmd
}

func newVerifyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [client-id]",
		Short: "Check stored balances against a fresh recomputation",
		Long: `Compare each entry's stored balance with the balance recomputed from the
client's opening balance. Exits non-zero when any client is stale; fix with
ledgerctl recalc.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.requireLocal("verify"); err != nil {
					return err
				}
				var ids []int64
				if len(args) == 1 {
					id, err := parseClientID(args[0])
					if err != nil {
						return err
					}
					ids = append(ids, id)
				} else {
					clients, err := s.local.ListClients(ctx)
					if err != nil {
						return err
					}
					for _, c := range clients {
						ids = append(ids, c.ID)
					}
				}

				results := make([]*ledger.ValidationResult, 0, len(ids))
				stale := 0
				for _, id := range ids {
					res, err := s.local.VerifyClientBalances(ctx, id)
					if err != nil {
						return err
					}
					if !res.IsValid {
						stale++
					}
					results = append(results, res)
				}
				if err := o.print(cmd, o.writer().Verifications(results)); err != nil {
					return err
				}
				if stale > 0 {
					return fmt.Errorf("%d of %d clients have stale balances", stale, len(ids))
				}
				return nil
			})
		},
	}
}

func newMigrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store applies the schema.
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.requireLocal("migrate"); err != nil {
					return err
				}
				n, err := s.local.CountClients(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema up to date, %d clients\n", n)
				return err
			})
		},
	}
}
