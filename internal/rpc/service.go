// Package rpc exposes the ledger engine over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP
// API, so no generated stubs are needed.
package rpc

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/shop-ledger/internal/ledger"
)

const ServiceName = "shopledger.v1.LedgerService"

// Method names.
const (
	MethodComputeRunningBalances    = "ComputeRunningBalances"
	MethodRecalculateClientBalances = "RecalculateClientBalances"
	MethodClassifyClients           = "ClassifyClients"
	MethodAggregateByDate           = "AggregateByDate"
	MethodAggregateByMonth          = "AggregateByMonth"
	MethodAggregateByAccount        = "AggregateByAccount"
	MethodBuildStatement            = "BuildStatement"
)

// FullMethod returns the /service/method path of name.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// Engine is the set of ledger operations served over gRPC. Both
// *ledger.LedgerService and *Client implement it.
type Engine interface {
	ComputeRunningBalances(ctx context.Context, clientID int64, entries []ledger.Transaction, opening decimal.Decimal) ([]ledger.BalancedEntry, error)
	RecalculateClientBalances(ctx context.Context, clientID int64) (*ledger.RecalculationResult, error)
	ClassifyClients(ctx context.Context) (*ledger.Classification, error)
	AggregateByDate(ctx context.Context, r ledger.DateRange) ([]ledger.DailySummary, error)
	AggregateByMonth(ctx context.Context, r ledger.DateRange) ([]ledger.MonthlySummary, error)
	AggregateByAccount(ctx context.Context) ([]ledger.AccountSummary, error)
	BuildStatement(ctx context.Context, clientID int64, r ledger.DateRange) (*ledger.Statement, error)
}

// LedgerServiceServer is the handler type registered under ServiceName.
type LedgerServiceServer interface {
	ComputeRunningBalances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecalculateClientBalances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClassifyClients(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AggregateByDate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AggregateByMonth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AggregateByAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BuildStatement(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type handlerFunc func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodComputeRunningBalances, LedgerServiceServer.ComputeRunningBalances),
		unary(MethodRecalculateClientBalances, LedgerServiceServer.RecalculateClientBalances),
		unary(MethodClassifyClients, LedgerServiceServer.ClassifyClients),
		unary(MethodAggregateByDate, LedgerServiceServer.AggregateByDate),
		unary(MethodAggregateByMonth, LedgerServiceServer.AggregateByMonth),
		unary(MethodAggregateByAccount, LedgerServiceServer.AggregateByAccount),
		unary(MethodBuildStatement, LedgerServiceServer.BuildStatement),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shopledger/v1/ledger.proto",
}

func Register(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server adapts an Engine to LedgerServiceServer.
type Server struct {
	engine Engine
	logger *slog.Logger
}

var _ LedgerServiceServer = (*Server)(nil)

func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger}
}

type clientRequest struct {
	ClientID int64 `json:"client_id"`
}

type rangeRequest struct {
	From ledger.Date `json:"from"`
	To   ledger.Date `json:"to"`
}

func (r rangeRequest) dateRange() ledger.DateRange { return ledger.DateRange{From: r.From, To: r.To} }

type statementRequest struct {
	ClientID int64       `json:"client_id"`
	From     ledger.Date `json:"from"`
	To       ledger.Date `json:"to"`
}

type runningBalancesRequest struct {
	ClientID       int64                `json:"client_id"`
	OpeningBalance decimal.Decimal      `json:"opening_balance"`
	Entries        []ledger.Transaction `json:"entries"`
}

type runningBalancesResponse struct {
	ClientID       int64                  `json:"client_id"`
	Entries        []ledger.BalancedEntry `json:"entries"`
	ClosingBalance decimal.Decimal        `json:"closing_balance"`
}

type dailyResponse struct {
	Days []ledger.DailySummary `json:"days"`
}

type monthlyResponse struct {
	Months []ledger.MonthlySummary `json:"months"`
}

type accountsResponse struct {
	Accounts []ledger.AccountSummary `json:"accounts"`
}

// ComputeRunningBalances folds caller supplied entries. Entries without a
// client_id are taken to belong to the requested client.
func (s *Server) ComputeRunningBalances(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req runningBalancesRequest
	if err := decodeRequest(runningBalancesSchema, in, &req); err != nil {
		return nil, err
	}
	for i := range req.Entries {
		if req.Entries[i].ClientID == 0 {
			req.Entries[i].ClientID = req.ClientID
		}
	}
	entries, err := s.engine.ComputeRunningBalances(ctx, req.ClientID, req.Entries, req.OpeningBalance)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	resp := runningBalancesResponse{ClientID: req.ClientID, Entries: emptyIfNil(entries), ClosingBalance: req.OpeningBalance}
	if n := len(entries); n > 0 {
		resp.ClosingBalance = entries[n-1].RunningBalance
	}
	return encodeResponse(resp)
}

func (s *Server) RecalculateClientBalances(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req clientRequest
	if err := decodeRequest(clientRequestSchema, in, &req); err != nil {
		return nil, err
	}
	res, err := s.engine.RecalculateClientBalances(ctx, req.ClientID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return encodeResponse(res)
}

func (s *Server) ClassifyClients(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.engine.ClassifyClients(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return encodeResponse(c)
}

func (s *Server) AggregateByDate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rangeRequest
	if err := decodeRequest(rangeRequestSchema, in, &req); err != nil {
		return nil, err
	}
	rows, err := s.engine.AggregateByDate(ctx, req.dateRange())
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return encodeResponse(dailyResponse{Days: emptyIfNil(rows)})
}

func (s *Server) AggregateByMonth(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rangeRequest
	if err := decodeRequest(rangeRequestSchema, in, &req); err != nil {
		return nil, err
	}
	rows, err := s.engine.AggregateByMonth(ctx, req.dateRange())
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return encodeResponse(monthlyResponse{Months: emptyIfNil(rows)})
}

func (s *Server) AggregateByAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	rows, err := s.engine.AggregateByAccount(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return encodeResponse(accountsResponse{Accounts: emptyIfNil(rows)})
}

func (s *Server) BuildStatement(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req statementRequest
	if err := decodeRequest(statementRequestSchema, in, &req); err != nil {
		return nil, err
	}
	st, err := s.engine.BuildStatement(ctx, req.ClientID, ledger.DateRange{From: req.From, To: req.To})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return encodeResponse(st)
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
