package postgres

import "calibprep/internal/storage"

func init() {
	storage.Register("postgres", New)
}
