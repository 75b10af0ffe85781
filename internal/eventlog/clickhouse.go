package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseConfig holds connection settings for ClickHouseStore.
// Protocol is "native" (default) or "http".
type ClickHouseConfig struct {
	Address     string
	Database    string
	Username    string
	Password    string
	Table       string
	Protocol    string
	DialTimeout time.Duration
}

// ClickHouseStore writes entries to a MergeTree table ordered by created_at.
type ClickHouseStore struct {
	conn   clickhouse.Conn
	table  string
	logger *zap.Logger
}

// NewClickHouseStore connects, verifies the connection and creates the
// table if it does not exist.
func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouseStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", cfg.Table)
	}

	protocol := clickhouse.Native
	if cfg.Protocol == "http" {
		protocol = clickhouse.HTTP
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Address},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: dialTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		Protocol:    protocol,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	s := &ClickHouseStore{conn: conn, table: cfg.Table, logger: logger}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if err := s.ensureTable(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Info("clickhouse log store ready",
		zap.String("address", cfg.Address),
		zap.String("table", cfg.Table))
	return s, nil
}

func (s *ClickHouseStore) ensureTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		id         String,
		severity   LowCardinality(String),
		message    String,
		metadata   String,
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY created_at`

	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Insert writes entry as a single-row batch and returns its new id.
func (s *ClickHouseStore) Insert(ctx context.Context, entry *Entry) (string, error) {
	md, err := json.Marshal(entry.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	id := uuid.NewString()

	batch, err := s.conn.PrepareBatch(ctx,
		"INSERT INTO "+s.table+" (id, severity, message, metadata, created_at)")
	if err != nil {
		s.logger.Error("prepare batch", zap.Error(err), zap.String("table", s.table))
		return "", fmt.Errorf("prepare batch: %w", err)
	}
	if err := batch.Append(id, string(entry.Severity), entry.Message, string(md), entry.CreatedAt); err != nil {
		_ = batch.Abort()
		return "", fmt.Errorf("append: %w", err)
	}
	if err := batch.Send(); err != nil {
		s.logger.Error("send batch", zap.Error(err), zap.String("table", s.table))
		return "", fmt.Errorf("send batch: %w", err)
	}

	return id, nil
}

// Get reads one entry back by id.
func (s *ClickHouseStore) Get(ctx context.Context, id string) (*Entry, error) {
	var (
		entry    Entry
		severity string
		md       string
	)
	row := s.conn.QueryRow(ctx,
		"SELECT id, severity, message, metadata, created_at FROM "+s.table+" WHERE id = ? LIMIT 1", id)
	if err := row.Scan(&entry.ID, &severity, &entry.Message, &md, &entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("query entry %s: %w", id, err)
	}
	entry.Severity = Severity(severity)
	if md != "" && md != "null" {
		if err := json.Unmarshal([]byte(md), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &entry, nil
}

// Close closes the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
