// Package domain defines the core types and ports for Merlin.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. Configuration
// records (criteria, rating configs, discount rules) are returned in
// insertion order: "first match wins" scans depend on it.
type Repository interface {
	// Eligibility criteria (read path pre-filters by active client/source
	// pair and category group, mirroring the store query).
	SaveEligibilityCriteria(ctx context.Context, rec *EligibilityCriteria) error
	ListEligibilityCriteria(ctx context.Context, client, source, category string) ([]*EligibilityCriteria, error)
	ListAllEligibilityCriteria(ctx context.Context) ([]*EligibilityCriteria, error)

	// Rating configs (read path pre-filters by currency and product id).
	SaveRatingConfig(ctx context.Context, cfg *RatingConfig) error
	ListRatingConfigs(ctx context.Context, currency, productID string) ([]*RatingConfig, error)
	ListAllRatingConfigs(ctx context.Context) ([]*RatingConfig, error)

	// Discount rules.
	SaveDiscountRule(ctx context.Context, rule *DiscountRule) error
	ListDiscountRules(ctx context.Context, activeOnly bool) ([]*DiscountRule, error)

	// Devices (read-only to this core).
	SaveDevice(ctx context.Context, dev *Device) error
	GetDevice(ctx context.Context, id string) (*Device, error)

	// Quotes.
	SaveQuote(ctx context.Context, q *Quote) error
	GetQuote(ctx context.Context, id string) (*Quote, error)

	// Baskets. AppendBasketItem and UpdateBasketSummary are independent
	// read-modify-write steps with last-write-wins semantics; no
	// optimistic-concurrency token is used.
	CreateBasket(ctx context.Context, b *Basket) error
	GetBasket(ctx context.Context, id string) (*Basket, error)
	AppendBasketItem(ctx context.Context, basketID string, item LineItem) (*Basket, error)
	RemoveBasketItems(ctx context.Context, basketID, deviceID string) (*Basket, error)
	UpdateBasketSummary(ctx context.Context, basketID string, summary BasketSummary) error

	// Diagnostics (append-only).
	SaveDiagnostic(ctx context.Context, d *Diagnostic) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
