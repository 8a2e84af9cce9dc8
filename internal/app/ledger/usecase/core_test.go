package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/memory"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
)

// stepClock 每次呼叫前進 1ms
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newCore(t *testing.T, opts ...usecase.Option) (*usecase.CoreUseCase, *memory.MutexLedger) {
	t.Helper()
	ledger, err := memory.NewMutexLedger(nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	opts = append([]usecase.Option{usecase.WithClock(newStepClock().Now)}, opts...)
	return usecase.NewCoreUseCase(ledger, opts...), ledger
}

func amount(t *testing.T, s string) domain.Amount {
	t.Helper()
	a, err := domain.ParseAmount(s)
	if err != nil {
		t.Fatalf("parse amount %q: %v", s, err)
	}
	return a
}

func create(ctx context.Context, core *usecase.CoreUseCase, userID uuid.UUID, a domain.Amount, typ domain.TransactionType, key string) (*usecase.CreateResult, error) {
	return core.CreateTransaction(ctx, usecase.CreateTransactionInput{
		UserID:         userID,
		Amount:         a,
		Type:           typ,
		IdempotencyKey: key,
	})
}

func balanceOf(t *testing.T, core *usecase.CoreUseCase, userID uuid.UUID) domain.Amount {
	t.Helper()
	b, err := core.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return b.Amount
}

func TestCreditDebitReplayScenario(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	userID := uuid.New()

	first, err := create(ctx, core, userID, amount(t, "1000.00"), domain.TransactionTypeCredit, "A")
	if err != nil || first.Replayed {
		t.Fatalf("credit A: %+v (%v)", first, err)
	}
	if got := balanceOf(t, core, userID); got != amount(t, "1000.00") {
		t.Fatalf("want 1000.00, got %s", got)
	}

	_, err = create(ctx, core, userID, amount(t, "1500.00"), domain.TransactionTypeDebit, "B")
	var insufficient *domain.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("debit B: expected InsufficientFundsError, got %v", err)
	}
	if insufficient.Balance != amount(t, "1000.00") || domain.CodeOf(err) != domain.CodeInsufficientFunds {
		t.Fatalf("unexpected insufficient funds detail: %+v", insufficient)
	}
	if got := balanceOf(t, core, userID); got != amount(t, "1000.00") {
		t.Fatalf("failed debit changed balance: %s", got)
	}

	if _, err := create(ctx, core, userID, amount(t, "500.00"), domain.TransactionTypeDebit, "C"); err != nil {
		t.Fatalf("debit C: %v", err)
	}
	if got := balanceOf(t, core, userID); got != amount(t, "500.00") {
		t.Fatalf("want 500.00, got %s", got)
	}

	replay, err := create(ctx, core, userID, amount(t, "1000.00"), domain.TransactionTypeCredit, "A")
	if err != nil {
		t.Fatalf("replay A: %v", err)
	}
	if !replay.Replayed || replay.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay should return the original transaction, got %+v", replay)
	}
	if got := balanceOf(t, core, userID); got != amount(t, "500.00") {
		t.Fatalf("replay changed balance: %s", got)
	}

	// B 失敗時沒有寫入，所以同一個 key 可以在有足夠餘額後成功
	page, err := core.ListTransactions(ctx, usecase.ListTransactionsInput{UserID: userID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Meta.Total != 2 {
		t.Fatalf("expected exactly 2 rows (A, C), got %d", page.Meta.Total)
	}
}

func TestIdempotentReplayKeepsSingleRow(t *testing.T) {
	ctx := context.Background()
	core, ledger := newCore(t)
	userID := uuid.New()

	r1, err := create(ctx, core, userID, 12345, domain.TransactionTypeCredit, "same")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	r2, err := create(ctx, core, userID, 12345, domain.TransactionTypeCredit, "same")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if r1.Transaction.ID != r2.Transaction.ID || r1.Replayed || !r2.Replayed {
		t.Fatalf("expected same id with replay flag, got %+v / %+v", r1, r2)
	}
	_, total, _ := ledger.ListPage(ctx, domain.ListFilter{UserID: userID, Page: 1, Limit: 10})
	if total != 1 {
		t.Fatalf("expected one row, got %d", total)
	}

	// 不同使用者可以使用相同的 key
	other, err := create(ctx, core, uuid.New(), 1, domain.TransactionTypeCredit, "same")
	if err != nil || other.Replayed {
		t.Fatalf("key is scoped per user: %+v (%v)", other, err)
	}
}

func TestConcurrentDebitsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	userID := uuid.New()
	if _, err := create(ctx, core, userID, amount(t, "100.00"), domain.TransactionTypeCredit, "fund"); err != nil {
		t.Fatalf("fund: %v", err)
	}

	for round := 0; round < 20; round++ {
		roundUser := uuid.New()
		if _, err := create(ctx, core, roundUser, amount(t, "100.00"), domain.TransactionTypeCredit, "fund"); err != nil {
			t.Fatalf("fund round %d: %v", round, err)
		}
		var success, insufficient int32
		var g errgroup.Group
		for i := 0; i < 2; i++ {
			key := fmt.Sprintf("debit-%d", i)
			g.Go(func() error {
				_, err := create(ctx, core, roundUser, amount(t, "70.00"), domain.TransactionTypeDebit, key)
				switch {
				case err == nil:
					atomic.AddInt32(&success, 1)
				case errors.Is(err, domain.ErrInsufficientFunds):
					atomic.AddInt32(&insufficient, 1)
				default:
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("round %d: unexpected error %v", round, err)
		}
		if success != 1 || insufficient != 1 {
			t.Fatalf("round %d: want 1 success + 1 insufficient, got %d + %d", round, success, insufficient)
		}
		if got := balanceOf(t, core, roundUser); got != amount(t, "30.00") {
			t.Fatalf("round %d: want 30.00, got %s", round, got)
		}
	}
}

func TestConcurrentManyDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	userID := uuid.New()
	if _, err := create(ctx, core, userID, amount(t, "10.00"), domain.TransactionTypeCredit, "fund"); err != nil {
		t.Fatalf("fund: %v", err)
	}

	var success int32
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("debit-%d", i)
		g.Go(func() error {
			_, err := create(ctx, core, userID, amount(t, "1.00"), domain.TransactionTypeDebit, key)
			if err == nil {
				atomic.AddInt32(&success, 1)
				return nil
			}
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if success != 10 {
		t.Fatalf("want exactly 10 successful debits, got %d", success)
	}
	if got := balanceOf(t, core, userID); got != 0 {
		t.Fatalf("want zero balance, got %s", got)
	}
}

func TestConcurrentSameKeyConverges(t *testing.T) {
	ctx := context.Background()
	core, ledger := newCore(t)
	userID := uuid.New()

	const callers = 20
	ids := make([]uuid.UUID, callers)
	var replayed int32
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			res, err := create(ctx, core, userID, 999, domain.TransactionTypeCredit, "retry-me")
			if err != nil {
				return err
			}
			ids[i] = res.Transaction.ID
			if res.Replayed {
				atomic.AddInt32(&replayed, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("callers observed different transactions: %v vs %v", id, ids[0])
		}
	}
	if replayed != callers-1 {
		t.Fatalf("want %d replays, got %d", callers-1, replayed)
	}
	if _, total, _ := ledger.ListPage(ctx, domain.ListFilter{UserID: userID, Page: 1, Limit: 10}); total != 1 {
		t.Fatalf("want one row, got %d", total)
	}
}

func TestCrossUserCreatesDoNotBlock(t *testing.T) {
	core, ledger := newCore(t)
	userA, userB := uuid.New(), uuid.New()

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- ledger.WithSerializedAccess(context.Background(), userA, func(tx usecase.LedgerTx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer func() {
		close(release)
		<-done
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := create(ctx, core, userB, 100, domain.TransactionTypeCredit, "b"); err != nil {
		t.Fatalf("user B blocked by user A's section: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("user B create took %v", elapsed)
	}

	// 同一個使用者在鎖被佔用時會逾時，並回報為可重試的錯誤
	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	_, err := create(short, core, userA, 100, domain.TransactionTypeCredit, "a")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable on lock timeout, got %v", err)
	}
}

func TestLockTimeoutOption(t *testing.T) {
	core, ledger := newCore(t, usecase.WithLockTimeout(30*time.Millisecond))
	userID := uuid.New()

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- ledger.WithSerializedAccess(context.Background(), userID, func(tx usecase.LedgerTx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	_, err := create(context.Background(), core, userID, 100, domain.TransactionTypeCredit, "k")
	close(release)
	<-done
	if domain.CodeOf(err) != domain.CodeStorageUnavailable {
		t.Fatalf("expected retryable failure, got %v", err)
	}
	if balance := balanceOf(t, core, userID); balance != 0 {
		t.Fatalf("timed out create must not write, balance=%s", balance)
	}
}

func TestBalanceIsDerivable(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	userID := uuid.New()
	rng := rand.New(rand.NewSource(42))

	var expected domain.Amount
	for i := 0; i < 200; i++ {
		a := domain.Amount(rng.Int63n(50000) + 1)
		typ := domain.TransactionTypeCredit
		if rng.Intn(2) == 0 {
			typ = domain.TransactionTypeDebit
		}
		_, err := create(ctx, core, userID, a, typ, fmt.Sprintf("k-%d", i))
		switch {
		case err == nil && typ == domain.TransactionTypeCredit:
			expected += a
		case err == nil:
			expected -= a
		case errors.Is(err, domain.ErrInsufficientFunds):
			if a <= expected {
				t.Fatalf("debit %s rejected with balance %s", a, expected)
			}
		default:
			t.Fatalf("unexpected error: %v", err)
		}
		if expected < 0 {
			t.Fatalf("balance went negative: %s", expected)
		}
	}
	if got := balanceOf(t, core, userID); got != expected {
		t.Fatalf("want %s, got %s", expected, got)
	}
}

func TestListTransactionsPagination(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	userID := uuid.New()
	for i := 0; i < 45; i++ {
		if _, err := create(ctx, core, userID, 100, domain.TransactionTypeCredit, fmt.Sprintf("k-%02d", i)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	page, err := core.ListTransactions(ctx, usecase.ListTransactionsInput{UserID: userID, Page: 3, Limit: 20})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := domain.PageMeta{Total: 45, Page: 3, Limit: 20, TotalPages: 3}
	if len(page.Data) != 5 || page.Meta != want {
		t.Fatalf("want 5 items and %+v, got %d items and %+v", want, len(page.Data), page.Meta)
	}
	// 最舊的 5 筆，依 created_at DESC
	if page.Data[0].IdempotencyKey != "k-04" || page.Data[4].IdempotencyKey != "k-00" {
		t.Fatalf("unexpected ordering: first=%s last=%s", page.Data[0].IdempotencyKey, page.Data[4].IdempotencyKey)
	}

	first, _ := core.ListTransactions(ctx, usecase.ListTransactionsInput{UserID: userID})
	if first.Meta.Page != 1 || first.Meta.Limit != domain.DefaultPageSize || first.Data[0].IdempotencyKey != "k-44" {
		t.Fatalf("defaults not applied: %+v", first.Meta)
	}

	clamped, _ := core.ListTransactions(ctx, usecase.ListTransactionsInput{UserID: userID, Limit: 1000})
	if clamped.Meta.Limit != domain.MaxPageSize || len(clamped.Data) != 45 {
		t.Fatalf("limit should be clamped to %d, got %+v", domain.MaxPageSize, clamped.Meta)
	}

	beyond, _ := core.ListTransactions(ctx, usecase.ListTransactionsInput{UserID: userID, Page: 9, Limit: 20})
	if len(beyond.Data) != 0 || beyond.Meta.Total != 45 {
		t.Fatalf("page past the end should be empty: %+v", beyond.Meta)
	}

	empty, _ := core.ListTransactions(ctx, usecase.ListTransactionsInput{UserID: uuid.New()})
	if empty.Meta.Total != 0 || empty.Meta.TotalPages != 0 || empty.Data == nil {
		t.Fatalf("empty ledger meta: %+v", empty.Meta)
	}

	for _, in := range []usecase.ListTransactionsInput{
		{UserID: userID, Page: -1},
		{UserID: userID, Limit: -5},
		{UserID: userID, Type: "REFUND"},
		{UserID: uuid.Nil},
	} {
		if _, err := core.ListTransactions(ctx, in); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", in, err)
		}
	}
}

func TestListTransactionsTypeFilter(t *testing.T) {
	ctx := context.Background()
	core, _ := newCore(t)
	userID := uuid.New()
	create(ctx, core, userID, 1000, domain.TransactionTypeCredit, "c1")
	create(ctx, core, userID, 100, domain.TransactionTypeDebit, "d1")
	create(ctx, core, userID, 1000, domain.TransactionTypeCredit, "c2")

	page, err := core.ListTransactions(ctx, usecase.ListTransactionsInput{UserID: userID, Type: domain.TransactionTypeCredit})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Meta.Total != 2 || page.Data[0].IdempotencyKey != "c2" {
		t.Fatalf("unexpected credit page: %+v", page)
	}
}

func TestCreatedAtIsMonotonicPerUser(t *testing.T) {
	ctx := context.Background()
	times := []time.Time{
		time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC),
		time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC), // 時鐘倒退
	}
	var calls int32
	clock := func() time.Time {
		i := atomic.AddInt32(&calls, 1) - 1
		return times[int(i)%len(times)]
	}
	core, _ := newCore(t, usecase.WithClock(clock))
	userID := uuid.New()

	first, _ := create(ctx, core, userID, 1, domain.TransactionTypeCredit, "1")
	second, _ := create(ctx, core, userID, 1, domain.TransactionTypeCredit, "2")
	if second.Transaction.CreatedAt.Before(first.Transaction.CreatedAt) {
		t.Fatalf("created_at went backwards: %v then %v", first.Transaction.CreatedAt, second.Transaction.CreatedAt)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	core, _ := newCore(t)
	userID := uuid.New()
	cases := []usecase.CreateTransactionInput{
		{UserID: uuid.Nil, Amount: 1, Type: domain.TransactionTypeCredit, IdempotencyKey: "k"},
		{UserID: userID, Amount: 0, Type: domain.TransactionTypeCredit, IdempotencyKey: "k"},
		{UserID: userID, Amount: domain.MaxAmount + 1, Type: domain.TransactionTypeCredit, IdempotencyKey: "k"},
		{UserID: userID, Amount: 1, Type: "TRANSFER", IdempotencyKey: "k"},
		{UserID: userID, Amount: 1, Type: domain.TransactionTypeDebit, IdempotencyKey: ""},
	}
	for _, in := range cases {
		if _, err := core.CreateTransaction(context.Background(), in); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("%+v: expected validation error, got %v", in, err)
		}
	}
}
