package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"

	grpc_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/in/http"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/gormstore"
	kafka_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/memory"
	redis_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/redis"
	users_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/users"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-wallet-ledger/internal/config"
	grpcpool "github.com/JoeShih716/go-wallet-ledger/pkg/grpc"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
	"github.com/JoeShih716/go-wallet-ledger/pkg/sqlite"
	"github.com/JoeShih716/go-wallet-ledger/pkg/tracing"
	"github.com/JoeShih716/go-wallet-ledger/pkg/wal"
)

// storeLedger 帳本實作同時提供健康檢查
type storeLedger interface {
	usecase.Ledger
	http_adapter.Pinger
}

func main() {
	configPath := flag.String("config", "", "path to config file (default $LEDGER_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	appLog, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer appLog.Sync()

	if err := run(cfg, appLog); err != nil {
		appLog.Fatal("ledger exited with error", "error", err)
	}
	appLog.Info("Server exited")
}

func run(cfg *config.Config, appLog *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	shutdownTracing, err := tracing.Init(ctx, appLog, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// 4. 儲存層 (依 store.driver)
	ledger, closeStore, err := openStore(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer closeStore()

	// 5. UseCase 與選用的周邊 (快取 / 事件)
	opts := []usecase.Option{
		usecase.WithLogger(appLog),
		usecase.WithLockTimeout(cfg.Ledger.LockTimeout),
		usecase.WithPageSizes(cfg.Ledger.DefaultPageSize, cfg.Ledger.MaxPageSize),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := redis_adapter.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		opts = append(opts, usecase.WithBalanceCache(redis_adapter.NewBalanceCache(rdb, cfg.Redis.TTL)))
		appLog.Info("balance cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka_adapter.NewPublisher(cfg.Kafka)
		defer publisher.Close()
		opts = append(opts, usecase.WithEventPublisher(publisher))
		appLog.Info("transaction events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	coreUseCase := usecase.NewCoreUseCase(ledger, opts...)

	// 6. 使用者目錄
	pool := grpcpool.NewPool(grpcpool.WithInterceptor(grpcpool.ClientLoggingInterceptor(appLog)))
	defer pool.Close()
	var directory usecase.UserDirectory
	if cfg.Users.Target == config.UsersStatic {
		appLog.Warn("users directory is static, every well-formed user id is accepted")
		directory = users_adapter.NewStaticDirectory()
	} else {
		directory = users_adapter.NewGRPCDirectory(pool, cfg.Users.Target, cfg.Users.Timeout)
	}

	// 7. Driving Adapters
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcpool.RecoveryInterceptor(appLog),
		grpcpool.ServerLoggingInterceptor(appLog),
	))
	grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(coreUseCase, directory, appLog))
	reflection.Register(grpcServer)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: http_adapter.NewHandler(coreUseCase, directory, ledger, appLog).Routes(cfg.Server.RequestTimeout),
	}

	// 8. 啟動並等待訊號 (Graceful Shutdown)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		appLog.Info("Starting gRPC server", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		appLog.Info("Starting HTTP server", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})
	return g.Wait()
}

// openStore 依設定建立帳本，回傳的 close 函式釋放連線 / WAL
func openStore(ctx context.Context, cfg *config.Config, appLog *logger.Logger) (storeLedger, func(), error) {
	var closer io.Closer

	switch cfg.Store.Driver {
	case config.DriverMemory:
		var w *wal.WAL
		if cfg.Memory.WALPath != "" {
			var err error
			if w, err = wal.NewWAL(cfg.Memory.WALPath); err != nil {
				return nil, nil, fmt.Errorf("open wal: %w", err)
			}
			closer = w
		}
		ledger, err := memory_adapter.NewMutexLedger(w)
		if err != nil {
			closeFunc(closer, appLog)()
			return nil, nil, fmt.Errorf("recover memory ledger: %w", err)
		}
		appLog.Info("using in-memory ledger", "wal", cfg.Memory.WALPath)
		return ledger, closeFunc(closer, appLog), nil
	case config.DriverMySQL:
		client, err := mysql.NewClient(cfg.MySQL, appLog)
		if err != nil {
			return nil, nil, err
		}
		return newGormStore(ctx, cfg, client.DB(), client, appLog)
	case config.DriverPostgres:
		client, err := postgres.NewClient(cfg.Postgres, appLog)
		if err != nil {
			return nil, nil, err
		}
		return newGormStore(ctx, cfg, client.DB(), client, appLog)
	case config.DriverSQLite:
		client, err := sqlite.NewClient(cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		return newGormStore(ctx, cfg, client.DB(), client, appLog)
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func newGormStore(ctx context.Context, cfg *config.Config, db *gorm.DB, client io.Closer, appLog *logger.Logger) (storeLedger, func(), error) {
	ledger, err := gormstore.NewGormLedger(db, gormstore.WithLogger(appLog))
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	if cfg.Store.AutoMigrate {
		if err := ledger.AutoMigrate(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	appLog.Info("using sql ledger", "driver", cfg.Store.Driver)
	return ledger, closeFunc(client, appLog), nil
}

func closeFunc(c io.Closer, appLog *logger.Logger) func() {
	return func() {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			appLog.Warn("failed to close store", "error", err)
		}
	}
}
