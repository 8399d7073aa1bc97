package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads short positions from the reporting database.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Producers = (*Postgres)(nil)

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect dataset db: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, for callers that share one.
func NewPostgresWithPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) TopShorted(ctx context.Context, limit int) ([]ShortPosition, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := p.pool.Query(ctx, `
		SELECT product_code, name, industry, percent_shorted, reported_date
		FROM short_positions
		WHERE reported_date = (SELECT MAX(reported_date) FROM short_positions)
		ORDER BY percent_shorted DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top shorted: %w", err)
	}
	defer rows.Close()

	var out []ShortPosition
	for rows.Next() {
		var sp ShortPosition
		if err := rows.Scan(&sp.ProductCode, &sp.Name, &sp.Industry, &sp.PercentShorted, &sp.ReportedDate); err != nil {
			return nil, fmt.Errorf("scan top shorted: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (p *Postgres) IndustryTreemap(ctx context.Context) ([]IndustrySlice, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT industry, AVG(percent_shorted), COUNT(*)
		FROM short_positions
		WHERE reported_date = (SELECT MAX(reported_date) FROM short_positions)
		GROUP BY industry
		ORDER BY AVG(percent_shorted) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query industry treemap: %w", err)
	}
	defer rows.Close()

	var out []IndustrySlice
	for rows.Next() {
		var s IndustrySlice
		if err := rows.Scan(&s.Industry, &s.AveragePercent, &s.Instruments); err != nil {
			return nil, fmt.Errorf("scan industry treemap: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) Detail(ctx context.Context, productCode string) (*Detail, error) {
	var d Detail
	err := p.pool.QueryRow(ctx, `
		SELECT product_code, name, industry, percent_shorted, reported_date
		FROM short_positions
		WHERE product_code = $1
		ORDER BY reported_date DESC
		LIMIT 1`, productCode).
		Scan(&d.ProductCode, &d.Name, &d.Industry, &d.PercentShorted, &d.ReportedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query detail %s: %w", productCode, err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT reported_date, percent_shorted
		FROM short_positions
		WHERE product_code = $1 AND reported_date >= $2
		ORDER BY reported_date ASC`, productCode, d.ReportedDate.AddDate(0, -3, 0))
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", productCode, err)
	}
	defer rows.Close()

	for rows.Next() {
		var h HistoryPoint
		if err := rows.Scan(&h.Date, &h.PercentShorted); err != nil {
			return nil, fmt.Errorf("scan history %s: %w", productCode, err)
		}
		d.History = append(d.History, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &d, nil
}
