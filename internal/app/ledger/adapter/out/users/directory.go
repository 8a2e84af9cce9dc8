package users

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
	grpcpool "github.com/JoeShih716/go-wallet-ledger/pkg/grpc"
)

// UserExistsMethod 使用者服務的 RPC 名稱，請求 {user_id} 回應 {exists}
const UserExistsMethod = "/users.v1.UserService/UserExists"

// GRPCDirectory 透過 gRPC 向使用者服務查詢帳戶是否存在
type GRPCDirectory struct {
	pool    *grpcpool.Pool
	target  string
	timeout time.Duration
	dialOpt []grpc.DialOption
}

// NewGRPCDirectory 連線由 pool 管理，同一個 target 只會建立一條連線
//
// 參數:
//
//	pool: gRPC 連線池
//	target: 使用者服務地址 (e.g. "users:50052")
//	timeout: 單次查詢的逾時，<= 0 時為 2 秒
//	opts: 額外的 DialOption (測試時注入 bufconn dialer)
func NewGRPCDirectory(pool *grpcpool.Pool, target string, timeout time.Duration, opts ...grpc.DialOption) *GRPCDirectory {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &GRPCDirectory{
		pool:    pool,
		target:  target,
		timeout: timeout,
		dialOpt: opts,
	}
}

func (d *GRPCDirectory) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	conn, err := d.pool.GetConnection(d.target, d.dialOpt...)
	if err != nil {
		return false, &domain.StorageError{Op: "users_dial", Err: err, Transient: true}
	}

	req, err := structpb.NewStruct(map[string]any{"user_id": userID.String()})
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, UserExistsMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			return false, nil
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
			return false, &domain.StorageError{Op: "users_lookup", Err: err, Transient: true}
		default:
			return false, fmt.Errorf("users lookup: %w", err)
		}
	}
	exists, ok := resp.GetFields()["exists"]
	if !ok {
		return false, fmt.Errorf("users lookup: response missing %q", "exists")
	}
	return exists.GetBoolValue(), nil
}

// StaticDirectory 本機開發用: Allowed 為空時所有使用者都存在
type StaticDirectory struct {
	Allowed map[uuid.UUID]struct{}
}

// NewStaticDirectory 建立固定名單的目錄，不傳入任何 ID 時全部放行
func NewStaticDirectory(ids ...uuid.UUID) *StaticDirectory {
	d := &StaticDirectory{}
	if len(ids) > 0 {
		d.Allowed = make(map[uuid.UUID]struct{}, len(ids))
		for _, id := range ids {
			d.Allowed[id] = struct{}{}
		}
	}
	return d
}

func (d *StaticDirectory) UserExists(_ context.Context, userID uuid.UUID) (bool, error) {
	if d.Allowed == nil {
		return userID != uuid.Nil, nil
	}
	_, ok := d.Allowed[userID]
	return ok, nil
}

var (
	_ usecase.UserDirectory = (*GRPCDirectory)(nil)
	_ usecase.UserDirectory = (*StaticDirectory)(nil)
)
