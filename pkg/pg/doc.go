// Package pg bootstraps a resilient PostgreSQL layer on pgx/v5:
// connection pooling with startup retries, health checks, goose
// migrations, and shared error helpers.
package pg
