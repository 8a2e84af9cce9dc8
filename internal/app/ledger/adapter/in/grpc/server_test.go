package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/memory"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/users"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

func newTestConn(t *testing.T, directory usecase.UserDirectory) *grpc.ClientConn {
	t.Helper()
	ledger, err := memory.NewMutexLedger(nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	log := logger.NewNop()
	core := usecase.NewCoreUseCase(ledger, usecase.WithLogger(log))

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterLedgerServiceServer(server, NewGrpcServer(core, directory, log))
	go server.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		server.Stop()
	})
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp := &structpb.Struct{}
	err = conn.Invoke(context.Background(), method, req, resp)
	return resp, err
}

func TestGrpcCreateAndReplay(t *testing.T) {
	conn := newTestConn(t, users.NewStaticDirectory())
	userID := uuid.New().String()

	create := map[string]any{"user_id": userID, "amount": "1000.00", "type": "CREDIT", "idempotency_key": "A"}
	first, err := invoke(t, conn, MethodCreateTransaction, create)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tran := first.GetFields()["transaction"].GetStructValue().GetFields()
	if tran["amount"].GetStringValue() != "1000.00" || first.GetFields()["replayed"].GetBoolValue() {
		t.Fatalf("unexpected create response: %v", first)
	}

	second, err := invoke(t, conn, MethodCreateTransaction, create)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	replayed := second.GetFields()["transaction"].GetStructValue().GetFields()
	if !second.GetFields()["replayed"].GetBoolValue() || replayed["id"].GetStringValue() != tran["id"].GetStringValue() {
		t.Fatalf("replay should return the original transaction: %v", second)
	}

	balance, err := invoke(t, conn, MethodGetBalance, map[string]any{"user_id": userID})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got := balance.GetFields()["balance"].GetStringValue(); got != "1000.00" {
		t.Fatalf("want balance 1000.00, got %s", got)
	}
}

func TestGrpcErrorMapping(t *testing.T) {
	known := uuid.New()
	conn := newTestConn(t, users.NewStaticDirectory(known))

	tests := []struct {
		name     string
		method   string
		fields   map[string]any
		wantCode codes.Code
		wantErr  domain.ErrorCode
	}{
		{
			name:     "insufficient funds",
			method:   MethodCreateTransaction,
			fields:   map[string]any{"user_id": known.String(), "amount": "10.00", "type": "DEBIT", "idempotency_key": "d"},
			wantCode: codes.FailedPrecondition,
			wantErr:  domain.CodeInsufficientFunds,
		},
		{
			name:     "bad amount",
			method:   MethodCreateTransaction,
			fields:   map[string]any{"user_id": known.String(), "amount": "1.234", "type": "CREDIT", "idempotency_key": "x"},
			wantCode: codes.InvalidArgument,
			wantErr:  domain.CodeValidation,
		},
		{
			name:     "unknown user",
			method:   MethodGetBalance,
			fields:   map[string]any{"user_id": uuid.New().String()},
			wantCode: codes.NotFound,
			wantErr:  domain.CodeUserNotFound,
		},
		{
			name:     "bad page",
			method:   MethodListTransactions,
			fields:   map[string]any{"user_id": known.String(), "page": "0"},
			wantCode: codes.InvalidArgument,
			wantErr:  domain.CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(t, conn, tt.method, tt.fields)
			if status.Code(err) != tt.wantCode {
				t.Fatalf("want %s, got %v", tt.wantCode, err)
			}
			if got := ErrorCodeFromStatus(err); got != tt.wantErr {
				t.Fatalf("want error code %s, got %s", tt.wantErr, got)
			}
		})
	}
}

func TestGrpcListTransactions(t *testing.T) {
	conn := newTestConn(t, users.NewStaticDirectory())
	userID := uuid.New().String()
	for _, key := range []string{"a", "b", "c"} {
		// 數字型別的金額也接受
		if _, err := invoke(t, conn, MethodCreateTransaction, map[string]any{
			"user_id": userID, "amount": 12.5, "type": "credit", "idempotency_key": key,
		}); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}

	resp, err := invoke(t, conn, MethodListTransactions, map[string]any{"user_id": userID, "limit": 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	data := resp.GetFields()["data"].GetListValue().GetValues()
	meta := resp.GetFields()["meta"].GetStructValue().GetFields()
	if len(data) != 2 || meta["total"].GetNumberValue() != 3 || meta["totalPages"].GetNumberValue() != 2 {
		t.Fatalf("unexpected page: %v", resp)
	}
	if first := data[0].GetStructValue().GetFields(); first["idempotency_key"].GetStringValue() != "c" || first["amount"].GetStringValue() != "12.50" {
		t.Fatalf("newest first expected: %v", first)
	}
}
