// Package cmd provides the ledgerctl commands.
package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/shop-ledger/internal/app"
	"github.com/example/shop-ledger/internal/config"
	"github.com/example/shop-ledger/internal/ledger"
	"github.com/example/shop-ledger/internal/report"
	"github.com/example/shop-ledger/internal/rpc"
)

type options struct {
	envFile  string
	debug    bool
	plain    bool
	width    int
	currency string

	grpcAddr string
	grpcTLS  bool
	token    string
}

// NewRootCommand builds the ledgerctl command tree.
func NewRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Inspect and maintain the shop ledger",
		Long: `ledgerctl reads and repairs the shop ledger.

Reports run against the database named by the environment (or .env), or
against a running ledger gRPC server with --grpc-addr.

Example:
  ledgerctl statement 12 --from 2024-04-01 --to 2025-03-31
  ledgerctl summary monthly --from 2024-01-01 --to 2024-12-31
  ledgerctl recalc --all`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if o.debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.envFile, "env-file", "", "env file to load (default .env when present)")
	pf.BoolVar(&o.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&o.plain, "plain", false, "print raw Markdown instead of rendering it")
	pf.IntVar(&o.width, "width", 100, "word wrap width for rendered output")
	pf.StringVar(&o.currency, "currency", report.DefaultCurrency, "ISO currency code for amounts")
	pf.StringVar(&o.grpcAddr, "grpc-addr", "", "ledger gRPC server to query instead of the database")
	pf.BoolVar(&o.grpcTLS, "grpc-tls", false, "use TLS with system roots for --grpc-addr")
	pf.StringVar(&o.token, "token", "", "bearer token for --grpc-addr")

	root.AddCommand(
		newRecalcCmd(o),
		newStatementCmd(o),
		newSummaryCmd(o),
		newBalancesCmd(o, "debtors"),
		newBalancesCmd(o, "creditors"),
		newVerifyCmd(o),
		newMigrateCmd(o),
		newHashSecretCmd(),
		newKeygenCmd(),
		newAuditCmd(),
	)
	return root
}

// Execute runs ledgerctl with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// session is either a local ledger service or a gRPC client.
type session struct {
	engine rpc.Engine
	local  *ledger.LedgerService
	close  func() error
}

func (o *options) open(ctx context.Context) (*session, error) {
	if o.grpcAddr != "" {
		creds := insecure.NewCredentials()
		if o.grpcTLS {
			creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		}
		cc, err := grpc.DialContext(ctx, o.grpcAddr, grpc.WithTransportCredentials(creds))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", o.grpcAddr, err)
		}
		return &session{engine: rpc.NewClient(cc, o.token), close: cc.Close}, nil
	}

	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	rt, err := app.Start(ctx, cfg, slog.Default())
	if err != nil {
		return nil, err
	}
	return &session{engine: rt.Ledger, local: rt.Ledger, close: rt.Close}, nil
}

func (s *session) requireLocal(command string) error {
	if s.local == nil {
		return fmt.Errorf("%s needs direct database access; drop --grpc-addr", command)
	}
	return nil
}

// withSession opens a session for the duration of fn.
func (o *options) withSession(cmd *cobra.Command, fn func(context.Context, *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func (o *options) writer() *report.Writer { return report.New(o.currency) }

func (o *options) print(cmd *cobra.Command, markdown string) error {
	out := markdown
	if !o.plain {
		rendered, err := report.Render(markdown, o.width)
		if err != nil {
			return err
		}
		out = rendered
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}
