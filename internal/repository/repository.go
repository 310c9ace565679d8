// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opencover/merlin/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// seqCounter issues the insertion-order sequence for configuration
// records. Seeded from the clock so sequences stay monotonic across
// restarts; incremented atomically so rapid inserts never collide.
var seqCounter = time.Now().UnixNano()

func nextSeq() int64 {
	return atomic.AddInt64(&seqCounter, 1)
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers. Records are stored as
// JSON documents; the columns alongside them exist only for filtering
// and ordering.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEligibilityCriteria inserts or updates a criteria record. Updates
// keep the record's original insertion sequence.
func (r *SQLRepository) SaveEligibilityCriteria(ctx context.Context, rec *domain.EligibilityCriteria) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: criteria id is required", ErrInvalidInput)
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO eligibility_criteria (id, seq, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), rec.ID, nextSeq(), string(doc), now, now)
	return err
}

// ListEligibilityCriteria returns, in insertion order, the criteria
// records active for the client/source pair and covering the category.
// The pair/category pre-filter mirrors the store query the resolver
// issues; block-level matching stays in the resolver.
func (r *SQLRepository) ListEligibilityCriteria(ctx context.Context, client, source, category string) ([]*domain.EligibilityCriteria, error) {
	all, err := r.ListAllEligibilityCriteria(ctx)
	if err != nil {
		return nil, err
	}

	var out []*domain.EligibilityCriteria
	for _, rec := range all {
		if rec.AppliesToClient(client, source) && rec.HasCategoryGroup(category) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListAllEligibilityCriteria returns every criteria record in insertion
// order.
func (r *SQLRepository) ListAllEligibilityCriteria(ctx context.Context) ([]*domain.EligibilityCriteria, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT doc FROM eligibility_criteria ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.EligibilityCriteria
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec domain.EligibilityCriteria
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse criteria record: %w", err)
		}
		out = append(out, &rec)
	}

	return out, rows.Err()
}

// SaveRatingConfig inserts or updates a rating config. Updates keep the
// record's original insertion sequence.
func (r *SQLRepository) SaveRatingConfig(ctx context.Context, cfg *domain.RatingConfig) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("%w: rating config id is required", ErrInvalidInput)
	}

	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode rating config: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rating_configs (id, seq, currency, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			currency = excluded.currency,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), cfg.ID, nextSeq(), cfg.Currency, string(doc), now, now)
	return err
}

// ListRatingConfigs returns, in insertion order, the rating configs
// matching the currency/product pre-filter.
func (r *SQLRepository) ListRatingConfigs(ctx context.Context, currency, productID string) ([]*domain.RatingConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT doc FROM rating_configs WHERE currency = ? ORDER BY seq ASC`), currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RatingConfig
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var cfg domain.RatingConfig
		if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse rating config: %w", err)
		}
		if cfg.HasProduct(productID) {
			out = append(out, &cfg)
		}
	}

	return out, rows.Err()
}

// ListAllRatingConfigs returns every rating config in insertion order.
func (r *SQLRepository) ListAllRatingConfigs(ctx context.Context) ([]*domain.RatingConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT doc FROM rating_configs ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RatingConfig
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var cfg domain.RatingConfig
		if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse rating config: %w", err)
		}
		out = append(out, &cfg)
	}

	return out, rows.Err()
}

// SaveDiscountRule inserts or updates a discount rule. Updates keep the
// rule's original insertion sequence.
func (r *SQLRepository) SaveDiscountRule(ctx context.Context, rule *domain.DiscountRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: discount rule id is required", ErrInvalidInput)
	}

	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to encode discount rule: %w", err)
	}

	active := 0
	if rule.Active {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO discount_rules (id, seq, active, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active = excluded.active,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), rule.ID, nextSeq(), active, string(doc), now, now)
	return err
}

// ListDiscountRules returns discount rules in insertion order,
// optionally only the active ones.
func (r *SQLRepository) ListDiscountRules(ctx context.Context, activeOnly bool) ([]*domain.DiscountRule, error) {
	query := `SELECT doc FROM discount_rules ORDER BY seq ASC`
	if activeOnly {
		query = `SELECT doc FROM discount_rules WHERE active = 1 ORDER BY seq ASC`
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DiscountRule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rule domain.DiscountRule
		if err := json.Unmarshal([]byte(doc), &rule); err != nil {
			return nil, fmt.Errorf("failed to parse discount rule: %w", err)
		}
		out = append(out, &rule)
	}

	return out, rows.Err()
}

// SaveDevice stores a device record.
func (r *SQLRepository) SaveDevice(ctx context.Context, dev *domain.Device) error {
	if dev == nil || dev.ID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidInput)
	}

	doc, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("failed to encode device: %w", err)
	}

	query := `
		INSERT INTO devices (id, doc, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), dev.ID, string(doc), time.Now().UTC())
	return err
}

// GetDevice retrieves a device by id.
func (r *SQLRepository) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT doc FROM devices WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var dev domain.Device
	if err := json.Unmarshal([]byte(doc), &dev); err != nil {
		return nil, fmt.Errorf("failed to parse device record: %w", err)
	}
	return &dev, nil
}

// SaveQuote stores a quote.
func (r *SQLRepository) SaveQuote(ctx context.Context, q *domain.Quote) error {
	if q == nil || q.ID == "" {
		return fmt.Errorf("%w: quote id is required", ErrInvalidInput)
	}

	responses, err := json.Marshal(q.Responses)
	if err != nil {
		return fmt.Errorf("failed to encode quote responses: %w", err)
	}

	query := `
		INSERT INTO quotes (id, device_id, responses, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), q.ID, q.DeviceID, string(responses), q.CreatedAt)
	return err
}

// GetQuote retrieves a quote by id.
func (r *SQLRepository) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	var q domain.Quote
	var deviceID sql.NullString
	var responses string

	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT id, device_id, responses, created_at FROM quotes WHERE id = ?`), id).
		Scan(&q.ID, &deviceID, &responses, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	q.DeviceID = deviceID.String
	if err := json.Unmarshal([]byte(responses), &q.Responses); err != nil {
		return nil, fmt.Errorf("failed to parse quote responses: %w", err)
	}
	return &q, nil
}

// CreateBasket stores a new basket.
func (r *SQLRepository) CreateBasket(ctx context.Context, b *domain.Basket) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("%w: basket id is required", ErrInvalidInput)
	}

	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("failed to encode basket items: %w", err)
	}

	query := `
		INSERT INTO baskets (id, quote_id, status, items, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		b.ID, b.QuoteID, b.Status, string(items), nil, b.CreatedAt, b.UpdatedAt)
	return err
}

// GetBasket retrieves a basket by id.
func (r *SQLRepository) GetBasket(ctx context.Context, id string) (*domain.Basket, error) {
	var b domain.Basket
	var quoteID sql.NullString
	var items string
	var summary sql.NullString

	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT id, quote_id, status, items, summary, created_at, updated_at FROM baskets WHERE id = ?`), id).
		Scan(&b.ID, &quoteID, &b.Status, &items, &summary, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.QuoteID = quoteID.String
	if err := json.Unmarshal([]byte(items), &b.Items); err != nil {
		return nil, fmt.Errorf("failed to parse basket items: %w", err)
	}
	if summary.Valid && summary.String != "" {
		var s domain.BasketSummary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("failed to parse basket summary: %w", err)
		}
		b.Summary = &s
	}
	return &b, nil
}

// AppendBasketItem appends a line item to a basket's item array and
// returns the updated basket. This is a read-modify-write step with
// last-write-wins semantics; concurrent appends on the same basket are
// not serialized.
func (r *SQLRepository) AppendBasketItem(ctx context.Context, basketID string, item domain.LineItem) (*domain.Basket, error) {
	b, err := r.GetBasket(ctx, basketID)
	if err != nil {
		return nil, err
	}

	b.Items = append(b.Items, item)
	if err := r.writeBasketItems(ctx, b); err != nil {
		return nil, err
	}
	return r.GetBasket(ctx, basketID)
}

// RemoveBasketItems removes all items with the given device id from a
// basket and returns the updated basket.
func (r *SQLRepository) RemoveBasketItems(ctx context.Context, basketID, deviceID string) (*domain.Basket, error) {
	b, err := r.GetBasket(ctx, basketID)
	if err != nil {
		return nil, err
	}

	kept := b.Items[:0]
	for _, it := range b.Items {
		if it.DeviceID != deviceID {
			kept = append(kept, it)
		}
	}
	b.Items = kept

	if err := r.writeBasketItems(ctx, b); err != nil {
		return nil, err
	}
	return r.GetBasket(ctx, basketID)
}

func (r *SQLRepository) writeBasketItems(ctx context.Context, b *domain.Basket) error {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("failed to encode basket items: %w", err)
	}

	query := `UPDATE baskets SET items = ?, updated_at = ? WHERE id = ?`
	_, err = r.db.ExecContext(ctx, r.rebind(query), string(items), time.Now().UTC(), b.ID)
	return err
}

// UpdateBasketSummary overwrites a basket's rating summary.
func (r *SQLRepository) UpdateBasketSummary(ctx context.Context, basketID string, summary domain.BasketSummary) error {
	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode basket summary: %w", err)
	}

	query := `UPDATE baskets SET summary = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), string(doc), time.Now().UTC(), basketID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDiagnostic appends a diagnostic entry.
func (r *SQLRepository) SaveDiagnostic(ctx context.Context, d *domain.Diagnostic) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: diagnostic id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO diagnostics (id, component, kind, input, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.Component, d.Kind, string(d.Input), string(d.Detail), d.CreatedAt)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
