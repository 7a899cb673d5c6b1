// Package all links every storage backend into the binary. Import it for its
// side effect.
package all

import (
	_ "calibprep/internal/storage/mssql"
	_ "calibprep/internal/storage/postgres"
	_ "calibprep/internal/storage/sqlite"
)
