package rpc

import (
	"context"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/shop-ledger/internal/ledger"
)

// Client calls a remote LedgerService and decodes the replies into ledger
// types.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

var _ Engine = (*Client)(nil)

// NewClient wraps cc. A non-empty token is sent as a bearer credential.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) invoke(ctx context.Context, method string, req, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	res := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, res); err != nil {
		return err
	}
	return fromStruct(res, out)
}

func (c *Client) ComputeRunningBalances(ctx context.Context, clientID int64, entries []ledger.Transaction, opening decimal.Decimal) ([]ledger.BalancedEntry, error) {
	var resp runningBalancesResponse
	err := c.invoke(ctx, MethodComputeRunningBalances, runningBalancesRequest{
		ClientID:       clientID,
		OpeningBalance: opening,
		Entries:        emptyIfNil(entries),
	}, &resp)
	return resp.Entries, err
}

func (c *Client) RecalculateClientBalances(ctx context.Context, clientID int64) (*ledger.RecalculationResult, error) {
	var res ledger.RecalculationResult
	if err := c.invoke(ctx, MethodRecalculateClientBalances, clientRequest{ClientID: clientID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ClassifyClients(ctx context.Context) (*ledger.Classification, error) {
	var res ledger.Classification
	if err := c.invoke(ctx, MethodClassifyClients, struct{}{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) AggregateByDate(ctx context.Context, r ledger.DateRange) ([]ledger.DailySummary, error) {
	var resp dailyResponse
	err := c.invoke(ctx, MethodAggregateByDate, rangeRequest{From: r.From, To: r.To}, &resp)
	return resp.Days, err
}

func (c *Client) AggregateByMonth(ctx context.Context, r ledger.DateRange) ([]ledger.MonthlySummary, error) {
	var resp monthlyResponse
	err := c.invoke(ctx, MethodAggregateByMonth, rangeRequest{From: r.From, To: r.To}, &resp)
	return resp.Months, err
}

func (c *Client) AggregateByAccount(ctx context.Context) ([]ledger.AccountSummary, error) {
	var resp accountsResponse
	err := c.invoke(ctx, MethodAggregateByAccount, struct{}{}, &resp)
	return resp.Accounts, err
}

func (c *Client) BuildStatement(ctx context.Context, clientID int64, r ledger.DateRange) (*ledger.Statement, error) {
	var st ledger.Statement
	if err := c.invoke(ctx, MethodBuildStatement, statementRequest{ClientID: clientID, From: r.From, To: r.To}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
