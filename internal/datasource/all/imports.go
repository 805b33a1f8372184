// Package all registers every built-in source kind ("arrow", "parquet",
// "sqlite") with the datasource factory. Import it for side effects.
package all

import (
	_ "treemerge/internal/datasource/arrowdir"
	_ "treemerge/internal/datasource/parquetdir"
	_ "treemerge/internal/datasource/sqlitedb"
)
