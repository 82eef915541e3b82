// Package migrations embeds the versioned SQL migration scripts applied
// to the global Delegate database.
//
// Scripts are numbered 000001_, 000002_, ... (golang-migrate's
// <version>_<name>.up.sql naming) and are never reordered or edited
// after release; new schema changes are always a new, higher-numbered
// file. internal/db wraps golang-migrate's iofs source driver around this
// embed.FS to get ordered, transactional application, and layers its own
// backup-on-upgrade on top (golang-migrate has no concept of it).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
