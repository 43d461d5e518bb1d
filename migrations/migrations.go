// Package migrations carries the embedded SQL schema so binaries and tests
// apply the same migrations without a filesystem dependency.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
