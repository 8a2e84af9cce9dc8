package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

// ReplayedHeader 冪等鍵已存在時回應帶上此 header
const ReplayedHeader = "Idempotent-Replayed"

// maxBodyBytes 建立交易的請求內容上限
const maxBodyBytes = 1 << 16

// Pinger 健康檢查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler 帳本的 HTTP 介面
type Handler struct {
	core   *usecase.CoreUseCase
	users  usecase.UserDirectory
	health Pinger
	log    *logger.Logger
}

func NewHandler(core *usecase.CoreUseCase, users usecase.UserDirectory, health Pinger, log *logger.Logger) *Handler {
	return &Handler{
		core:   core,
		users:  users,
		health: health,
		log:    log.With("service", "HttpHandler"),
	}
}

// Routes 建立路由
//
//	POST /transactions
//	GET  /transactions?user_id=&type=&page=&limit=
//	GET  /balance?user_id=
//	GET  /health
func (h *Handler) Routes(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/health", h.handleHealth)
	r.Route("/transactions", func(r chi.Router) {
		r.Post("/", h.handleCreateTransaction)
		r.Get("/", h.handleListTransactions)
	})
	r.Get("/balance", h.handleGetBalance)
	return r
}

type createTransactionRequest struct {
	UserID         string          `json:"user_id"`
	Amount         json.RawMessage `json:"amount"`
	Type           string          `json:"type"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (h *Handler) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, r, domain.NewValidationError("body", "must be a valid JSON object"))
		return
	}

	// amount 可以是 JSON number 或字串
	amount := strings.Trim(strings.TrimSpace(string(req.Amount)), `"`)
	in, err := usecase.ParseCreateTransactionInput(req.UserID, amount, req.Type, req.IdempotencyKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.ensureUser(r.Context(), in.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.core.CreateTransaction(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		w.Header().Set(ReplayedHeader, "true")
		status = http.StatusOK
	}
	writeJSON(w, status, result.Transaction)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in, err := usecase.ParseListTransactionsInput(q.Get("user_id"), q.Get("type"), q.Get("page"), q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.ensureUser(r.Context(), in.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.core.ListTransactions(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := usecase.ParseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.ensureUser(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	balance, err := h.core.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ensureUser(ctx context.Context, userID uuid.UUID) error {
	exists, err := h.users.UserExists(ctx, userID)
	if err != nil {
		h.log.Warn("user lookup failed", "user_id", userID, "error", err)
		return err
	}
	if !exists {
		return domain.ErrUserNotFound
	}
	return nil
}

// errorResponse 錯誤回應格式
type errorResponse struct {
	StatusCode int              `json:"statusCode"`
	Code       domain.ErrorCode `json:"code"`
	Message    string           `json:"message"`
}

// writeError 依 domain.ErrorCode 決定 HTTP 狀態碼，儲存層細節不對外揭露
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	resp := errorResponse{Code: code, Message: err.Error()}
	switch code {
	case domain.CodeValidation:
		resp.StatusCode = http.StatusBadRequest
	case domain.CodeInsufficientFunds:
		resp.StatusCode = http.StatusUnprocessableEntity
	case domain.CodeUserNotFound, domain.CodeNotFound:
		resp.StatusCode = http.StatusNotFound
	case domain.CodeStorageUnavailable:
		resp.StatusCode = http.StatusServiceUnavailable
		resp.Message = "ledger storage temporarily unavailable, retry later"
		w.Header().Set("Retry-After", "1")
	default:
		if errors.Is(err, context.Canceled) {
			// client 已離開，不需要回應內容
			h.log.Debug("request canceled", "path", r.URL.Path)
			return
		}
		resp.StatusCode = http.StatusInternalServerError
		resp.Message = "internal error"
	}
	writeJSON(w, resp.StatusCode, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger 以 zap 記錄每個請求
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
