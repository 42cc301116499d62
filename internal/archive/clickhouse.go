package archive

import (
	"context"
	"fmt"
	"log"

	"netsentry/internal/config"
	"netsentry/internal/core/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS packet_log (
    Timestamp DateTime,
    Protocol  String,
    SrcIP     String,
    SrcPort   UInt16,
    DstIP     String,
    DstPort   UInt16,
    Flags     String,
    Length    UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp);
`

// Writer archives packet log batches into ClickHouse for long-horizon
// analytics. It is optional; the engine runs fine without it.
type Writer struct {
	conn driver.Conn
}

// NewWriter connects to ClickHouse and ensures the archive table exists.
func NewWriter(cfg config.ClickHouseConfig) (*Writer, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Connected to ClickHouse and ensured packet_log table exists.")

	return &Writer{conn: conn}, nil
}

// ArchivePackets inserts one batch of packet log entries.
func (w *Writer) ArchivePackets(entries []model.PacketLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO packet_log")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range entries {
		if err := batch.Append(
			e.Timestamp,
			e.Protocol,
			e.SrcIP,
			e.SrcPort,
			e.DstIP,
			e.DstPort,
			e.Flags,
			uint32(e.Length),
		); err != nil {
			return fmt.Errorf("failed to append entry to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Archived %d packet log entries to ClickHouse", len(entries))
	return nil
}

// Close shuts down the connection.
func (w *Writer) Close() error {
	return w.conn.Close()
}
