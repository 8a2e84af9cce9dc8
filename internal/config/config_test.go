package config

import (
	"strings"
	"testing"
	"time"
)

const sample = `
server:
  grpc_addr: ":6000"
  shutdown_timeout: 5s
store:
  driver: postgres
  auto_migrate: true
postgres:
  host: db
  user: ledger
  db_name: ledger
ledger:
  default_page_size: 10
  max_page_size: 50
  lock_timeout: 3s
kafka:
  brokers: ["k1:9092"]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.GRPCAddr != ":6000" || cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("server addrs: %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second || cfg.Ledger.LockTimeout != 3*time.Second {
		t.Fatalf("durations not parsed: %+v %+v", cfg.Server, cfg.Ledger)
	}
	if cfg.Postgres.Port != 5432 || cfg.Postgres.SSLMode != "disable" {
		t.Fatalf("postgres defaults not applied: %+v", cfg.Postgres)
	}
	if cfg.Kafka.Topic == "" || len(cfg.Kafka.Brokers) != 1 {
		t.Fatalf("kafka: %+v", cfg.Kafka)
	}
	if cfg.Users.Target != UsersStatic {
		t.Fatalf("users target default: %q", cfg.Users.Target)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Fatalf("driver override ignored: %s", cfg.Store.Driver)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("brokers override: %v", cfg.Kafka.Brokers)
	}
	if cfg.Postgres.Password != "s3cret" {
		t.Fatalf("password override ignored")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"defaults to sqlite", ``, ""},
		{"unknown driver", "store:\n  driver: oracle\n", "unsupported driver"},
		{"mysql missing host", "store:\n  driver: mysql\n", "mysql"},
		{"bad page sizes", "ledger:\n  default_page_size: 50\n  max_page_size: 10\n", "default_page_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("want error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
