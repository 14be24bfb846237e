// Package all wires every built-in store backend into the factory.
//
// It exists purely for side effects: a blank import runs the init
// functions of each backend package, which register their factories
// with the store package. Binaries that only need a subset can import
// the individual backend packages instead.
package all

import (
	_ "recalls/internal/store/mssql"
	_ "recalls/internal/store/postgres"
	_ "recalls/internal/store/sqlite"
)
