// Package all wires every built-in storage backend into the storage factory.
// Importing it for side effects registers the postgres, mssql, mysql, sqlite
// and duckdb kinds together with their DDL bootstrappers.
//
//	import _ "treemerge/internal/storage/all"
package all

import (
	_ "treemerge/internal/storage/duckdb"
	_ "treemerge/internal/storage/mssql"
	_ "treemerge/internal/storage/mysql"
	_ "treemerge/internal/storage/postgres"
	_ "treemerge/internal/storage/sqlite"
)
