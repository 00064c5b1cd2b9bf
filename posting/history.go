package posting

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const createReadingTable = `CREATE TABLE IF NOT EXISTS cistern_reading (
	id          BIGSERIAL PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	level_mm    DOUBLE PRECISION NOT NULL,
	liters      DOUBLE PRECISION NOT NULL,
	percent     DOUBLE PRECISION NOT NULL,
	enclosure_c DOUBLE PRECISION
)`

const writeRecord = `INSERT INTO cistern_reading
	(recorded_at, level_mm, liters, percent, enclosure_c)
	VALUES ($1, $2, $3, $4, $5)`

type WriteRecordParams struct {
	RecordedAt sql.NullTime
	LevelMM    float64
	Liters     float64
	Percent    float64
	EnclosureC sql.NullFloat64
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// History appends every posted reading to a postgres table. Nothing is
// connected until the first post; the network is down on measuring wakes.
type History struct {
	db     execer
	closer func() error
	ready  bool
}

func OpenHistory(dsn string) (*History, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	return &History{db: db, closer: db.Close}, nil
}

func (h *History) Name() string { return "history" }

func (h *History) Post(ctx context.Context, r Reading) error {
	if !h.ready {
		if _, err := h.db.ExecContext(ctx, createReadingTable); err != nil {
			return fmt.Errorf("history: create table: %w", err)
		}
		h.ready = true
	}
	return h.WriteRecord(ctx, recordParams(r))
}

func (h *History) WriteRecord(ctx context.Context, arg WriteRecordParams) error {
	_, err := h.db.ExecContext(ctx, writeRecord,
		arg.RecordedAt,
		arg.LevelMM,
		arg.Liters,
		arg.Percent,
		arg.EnclosureC,
	)
	return err
}

func (h *History) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer()
}

func recordParams(r Reading) WriteRecordParams {
	p := WriteRecordParams{
		RecordedAt: sql.NullTime{Time: r.At, Valid: !r.At.IsZero()},
		LevelMM:    r.LevelMM,
		Liters:     r.Liters,
		Percent:    r.Percent,
	}
	if r.EnclosureC != nil {
		p.EnclosureC = sql.NullFloat64{Float64: *r.EnclosureC, Valid: true}
	}
	return p
}
