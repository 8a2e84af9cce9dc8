package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName 帳本服務的 gRPC 服務名稱
const ServiceName = "ledger.v1.LedgerService"

// 完整的 RPC 方法名稱，client 以 conn.Invoke 呼叫
const (
	MethodCreateTransaction = "/" + ServiceName + "/CreateTransaction"
	MethodGetBalance        = "/" + ServiceName + "/GetBalance"
	MethodListTransactions  = "/" + ServiceName + "/ListTransactions"
)

// LedgerServiceServer 帳本服務，請求與回應皆為 structpb.Struct
//
//	CreateTransaction {user_id, amount, type, idempotency_key} -> {transaction, replayed}
//	GetBalance        {user_id} -> {user_id, balance}
//	ListTransactions  {user_id, type?, page?, limit?} -> {data, meta}
//
// 金額以十進位字串傳遞 (e.g. "1000.00")，避免浮點數誤差
type LedgerServiceServer interface {
	CreateTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterLedgerServiceServer 註冊服務到 gRPC Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

type unaryMethod func(srv LedgerServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, req, info, handler)
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateTransaction",
			Handler: unaryHandler(MethodCreateTransaction, func(srv LedgerServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.CreateTransaction(ctx, req)
			}),
		},
		{
			MethodName: "GetBalance",
			Handler: unaryHandler(MethodGetBalance, func(srv LedgerServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetBalance(ctx, req)
			}),
		},
		{
			MethodName: "ListTransactions",
			Handler: unaryHandler(MethodListTransactions, func(srv LedgerServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ListTransactions(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}
