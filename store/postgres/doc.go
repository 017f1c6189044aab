// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: a single-statement SKIP LOCKED claim joined to the tenant
// table, lease-guarded outcome updates, advisory-lock dead letter dedup,
// embedded SQL migrations.
package postgres
