// Package db embeds the storefront PostgreSQL schema.
package db

import _ "embed"

// Schema creates the catalog, offer, customer, order and API key tables. Every
// statement is idempotent so it runs on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
