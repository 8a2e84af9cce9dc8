package grpc

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

// errorDomain ErrorInfo.Domain
const errorDomain = "ledger.v1"

type GrpcServer struct {
	core  *usecase.CoreUseCase
	users usecase.UserDirectory
	log   *logger.Logger
}

func NewGrpcServer(core *usecase.CoreUseCase, users usecase.UserDirectory, log *logger.Logger) *GrpcServer {
	return &GrpcServer{
		core:  core,
		users: users,
		log:   log.With("service", "GrpcServer"),
	}
}

func (s *GrpcServer) CreateTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// 1. 欄位驗證
	in, err := usecase.ParseCreateTransactionInput(
		stringField(req, "user_id"),
		stringField(req, "amount"),
		stringField(req, "type"),
		stringField(req, "idempotency_key"),
	)
	if err != nil {
		return nil, toStatus(err)
	}

	// 2. 帳戶存在
	if err := s.ensureUser(ctx, in.UserID); err != nil {
		return nil, toStatus(err)
	}

	// 3. 執行交易
	result, err := s.core.CreateTransaction(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"transaction": transactionFields(result.Transaction),
		"replayed":    result.Replayed,
	})
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := usecase.ParseUserID(stringField(req, "user_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, toStatus(err)
	}
	balance, err := s.core.GetBalance(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"user_id": balance.UserID.String(),
		"balance": balance.Amount.String(),
	})
}

func (s *GrpcServer) ListTransactions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := usecase.ParseListTransactionsInput(
		stringField(req, "user_id"),
		stringField(req, "type"),
		stringField(req, "page"),
		stringField(req, "limit"),
	)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.ensureUser(ctx, in.UserID); err != nil {
		return nil, toStatus(err)
	}
	page, err := s.core.ListTransactions(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}

	data := make([]any, 0, len(page.Data))
	for _, tran := range page.Data {
		data = append(data, transactionFields(tran))
	}
	return structpb.NewStruct(map[string]any{
		"data": data,
		"meta": map[string]any{
			"total":      page.Meta.Total,
			"page":       page.Meta.Page,
			"limit":      page.Meta.Limit,
			"totalPages": page.Meta.TotalPages,
		},
	})
}

func (s *GrpcServer) ensureUser(ctx context.Context, userID uuid.UUID) error {
	exists, err := s.users.UserExists(ctx, userID)
	if err != nil {
		s.log.Warn("user lookup failed", "user_id", userID, "error", err)
		return err
	}
	if !exists {
		return domain.ErrUserNotFound
	}
	return nil
}

// stringField 取出字串欄位，數字會轉為十進位字串，不存在時為空字串
func stringField(req *structpb.Struct, name string) string {
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
	default:
		return ""
	}
}

func transactionFields(tran *domain.Transaction) map[string]any {
	return map[string]any{
		"id":              tran.ID.String(),
		"user_id":         tran.UserID.String(),
		"amount":          tran.Amount.String(),
		"type":            tran.Type.String(),
		"idempotency_key": tran.IdempotencyKey,
		"created_at":      tran.CreatedAt.Format("2006-01-02T15:04:05.000000Z07:00"),
	}
}

// toStatus 依 domain.ErrorCode 對應 gRPC status，ErrorInfo.Reason 帶上錯誤代碼
// 儲存層與非預期錯誤不回傳細節
func toStatus(err error) error {
	code := domain.CodeOf(err)
	var grpcCode codes.Code
	msg := err.Error()
	switch code {
	case domain.CodeValidation:
		grpcCode = codes.InvalidArgument
	case domain.CodeInsufficientFunds:
		grpcCode = codes.FailedPrecondition
	case domain.CodeUserNotFound, domain.CodeNotFound:
		grpcCode = codes.NotFound
	case domain.CodeStorageUnavailable:
		grpcCode = codes.Unavailable
		msg = "ledger storage temporarily unavailable, retry later"
	default:
		if errors.Is(err, context.Canceled) {
			return status.FromContextError(err).Err()
		}
		grpcCode = codes.Internal
		msg = "internal error"
	}

	st := status.New(grpcCode, msg)
	withInfo, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: string(code),
		Domain: errorDomain,
	})
	if detailErr != nil {
		return st.Err()
	}
	return withInfo.Err()
}

// ErrorCodeFromStatus client 端從 status 取回 domain.ErrorCode
func ErrorCodeFromStatus(err error) domain.ErrorCode {
	if err == nil {
		return domain.CodeOK
	}
	st, ok := status.FromError(err)
	if !ok {
		return domain.CodeInternal
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return domain.ErrorCode(info.GetReason())
		}
	}
	return domain.CodeInternal
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
