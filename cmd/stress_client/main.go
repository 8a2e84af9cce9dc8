package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	grpc_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/in/grpc"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

// counters 各結果的計數
type counters struct {
	created      atomic.Int64
	replayed     atomic.Int64
	insufficient atomic.Int64
	failed       atomic.Int64
}

func main() {
	addr := flag.String("addr", "localhost:50051", "ledger gRPC address")
	total := flag.Int("n", 1000, "requests per phase")
	concurrency := flag.Int("c", 100, "concurrent requests")
	fund := flag.String("fund", "100.00", "initial credit")
	debit := flag.String("debit", "1.00", "amount of each debit")
	flag.Parse()

	appLog, err := logger.New("development", "info")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer appLog.Sync()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		appLog.Fatal("did not connect", "error", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	userID := uuid.New().String()
	appLog.Info("stress run", "user_id", userID, "n", *total, "c", *concurrency)

	// 1. 入金
	if _, err := create(ctx, conn, userID, *fund, domain.TransactionTypeCredit, "fund-"+userID); err != nil {
		appLog.Fatal("fund failed", "error", err)
	}

	// 2. 併發扣款，只有部分能成功
	var debits counters
	elapsed := fire(ctx, *total, *concurrency, func(i int) {
		_, err := create(ctx, conn, userID, *debit, domain.TransactionTypeDebit, fmt.Sprintf("debit-%d", i))
		debits.record(appLog, err, false)
	})
	report("debits", &debits, *total, elapsed)

	// 3. 同一個 idempotency key 併發入金，只能有一筆寫入
	var credits counters
	elapsed = fire(ctx, *total, *concurrency, func(int) {
		replayed, err := create(ctx, conn, userID, "1.00", domain.TransactionTypeCredit, "dup-"+userID)
		credits.record(appLog, err, replayed)
	})
	report("duplicate credits", &credits, *total, elapsed)

	// 4. 檢查不變量
	balance, err := getBalance(ctx, conn, userID)
	if err != nil {
		appLog.Fatal("get balance failed", "error", err)
	}
	fundAmount, _ := domain.ParseAmount(*fund)
	debitAmount, _ := domain.ParseAmount(*debit)
	want := fundAmount - domain.Amount(debits.created.Load())*debitAmount + domain.Amount(credits.created.Load())*domain.CurrencyScale

	ok := true
	if balance < 0 {
		appLog.Error("balance went negative", "balance", balance.String())
		ok = false
	}
	if balance != want {
		appLog.Error("balance mismatch", "got", balance.String(), "want", want.String())
		ok = false
	}
	if credits.created.Load() != 1 {
		appLog.Error("duplicate key wrote more than once", "created", credits.created.Load())
		ok = false
	}
	if !ok {
		appLog.Fatal("invariants violated")
	}
	appLog.Info("invariants hold", "balance", balance.String())
}

// fire 以 concurrency 的上限執行 n 次 call
func fire(ctx context.Context, n, concurrency int, call func(i int)) time.Duration {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	start := time.Now()
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			call(i)
			return nil
		})
	}
	_ = g.Wait()
	return time.Since(start)
}

func (c *counters) record(appLog *logger.Logger, err error, replayed bool) {
	switch code := grpc_adapter.ErrorCodeFromStatus(err); code {
	case domain.CodeOK:
		if replayed {
			c.replayed.Add(1)
		} else {
			c.created.Add(1)
		}
	case domain.CodeInsufficientFunds:
		c.insufficient.Add(1)
	default:
		if c.failed.Add(1) <= 10 {
			appLog.Warn("request failed", "code", code, "error", err)
		}
	}
}

func report(phase string, c *counters, n int, elapsed time.Duration) {
	fmt.Printf("%s: created=%d replayed=%d insufficient=%d failed=%d in %v (%.2f req/s)\n",
		phase, c.created.Load(), c.replayed.Load(), c.insufficient.Load(), c.failed.Load(),
		elapsed, float64(n)/elapsed.Seconds())
}

func create(ctx context.Context, conn *grpc.ClientConn, userID, amount string, tranType domain.TransactionType, key string) (bool, error) {
	req, err := structpb.NewStruct(map[string]any{
		"user_id":         userID,
		"amount":          amount,
		"type":            string(tranType),
		"idempotency_key": key,
	})
	if err != nil {
		return false, err
	}
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, grpc_adapter.MethodCreateTransaction, req, resp); err != nil {
		return false, err
	}
	return resp.GetFields()["replayed"].GetBoolValue(), nil
}

func getBalance(ctx context.Context, conn *grpc.ClientConn, userID string) (domain.Amount, error) {
	req, err := structpb.NewStruct(map[string]any{"user_id": userID})
	if err != nil {
		return 0, err
	}
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, grpc_adapter.MethodGetBalance, req, resp); err != nil {
		return 0, err
	}
	return domain.ParseAmount(resp.GetFields()["balance"].GetStringValue())
}
