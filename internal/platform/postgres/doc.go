// Package postgres implements store.ResultRepository on PostgreSQL.
//
// Results are kept one row per item identity and upserted on merge, so the
// last merge of an identity wins. A single metadata row records when the
// store last changed and how many identities it holds. Both are written in
// one transaction.
//
// The schema is managed with goose; migrations are embedded in the binary
// and applied by Migrate before first use.
package postgres
