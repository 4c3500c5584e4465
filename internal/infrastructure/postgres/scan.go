package postgres

// rowScanner is implemented by both pgx.Row and pgx.Rows — lets scan helpers
// work whether the caller used QueryRow or is iterating Query results.
type rowScanner interface {
	Scan(dest ...any) error
}
