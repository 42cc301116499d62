package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"netsentry/internal/core/model"

	"github.com/jackc/pgx/v5"
)

// summaryRows is the subset of pgx.Rows and sql.Rows the scan helpers need.
type summaryRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanDailySummaries(rows summaryRows) ([]model.DailySummary, error) {
	var out []model.DailySummary
	for rows.Next() {
		var s model.DailySummary
		var bs, br, ps, pr int64
		if err := rows.Scan(&s.Date, &bs, &br, &ps, &pr); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		s.BytesSent, s.BytesRecv = uint64(bs), uint64(br)
		s.PacketsSent, s.PacketsRecv = uint64(ps), uint64(pr)
		out = append(out, s)
	}
	return out, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
