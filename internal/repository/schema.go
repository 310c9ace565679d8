package repository

// Schema definitions for the Merlin database.
// Compatible with both SQLite and PostgreSQL.
//
// Configuration records are stored as JSON documents with an explicit
// seq column assigned at insert time. All configuration scans order by
// seq ASC so that "first match wins" semantics follow insertion order.

const schemaEligibilityCriteria = `
CREATE TABLE IF NOT EXISTS eligibility_criteria (
    id TEXT PRIMARY KEY,
    seq BIGINT NOT NULL,
    doc TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_eligibility_criteria_seq ON eligibility_criteria(seq);
`

const schemaRatingConfigs = `
CREATE TABLE IF NOT EXISTS rating_configs (
    id TEXT PRIMARY KEY,
    seq BIGINT NOT NULL,
    currency TEXT NOT NULL,
    doc TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rating_configs_seq ON rating_configs(seq);
CREATE INDEX IF NOT EXISTS idx_rating_configs_currency ON rating_configs(currency);
`

const schemaDiscountRules = `
CREATE TABLE IF NOT EXISTS discount_rules (
    id TEXT PRIMARY KEY,
    seq BIGINT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    doc TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discount_rules_seq ON discount_rules(seq);
CREATE INDEX IF NOT EXISTS idx_discount_rules_active ON discount_rules(active);
`

const schemaDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    doc TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaQuotes = `
CREATE TABLE IF NOT EXISTS quotes (
    id TEXT PRIMARY KEY,
    device_id TEXT,
    responses TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quotes_device ON quotes(device_id);
`

const schemaBaskets = `
CREATE TABLE IF NOT EXISTS baskets (
    id TEXT PRIMARY KEY,
    quote_id TEXT,
    status TEXT NOT NULL,
    items TEXT NOT NULL,
    summary TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaDiagnostics = `
CREATE TABLE IF NOT EXISTS diagnostics (
    id TEXT PRIMARY KEY,
    component TEXT NOT NULL,
    kind TEXT NOT NULL,
    input TEXT,
    detail TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diagnostics_component ON diagnostics(component, kind);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEligibilityCriteria,
		schemaRatingConfigs,
		schemaDiscountRules,
		schemaDevices,
		schemaQuotes,
		schemaBaskets,
		schemaDiagnostics,
	}
}
