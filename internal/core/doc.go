// Package core provides the business logic for game-ledger ingestion.
//
// It contains all domain logic independent of any transport or storage
// engine. Web handlers, the CLI and tests use it unchanged; storage is
// reached only through the [ProfileStore] and [BackupStore] interfaces.
//
// # Upload
//
// [Service.Upload] runs one ledger through a fixed sequence of states:
//
//  1. Parsing: size, file name and game date, CSV structure ([DecodeLedger])
//  2. Validating: headers, rows and row-count limits ([RawLedger.Validate])
//  3. ResolvingPlayers: one profile snapshot; every nickname must resolve ([ResolveMany])
//  4. DuplicateCheck: session set, then every profile's games ([CheckDuplicate])
//  5. CapturingBackup: pre-update copies saved locally ([BackupManager.CaptureFrom])
//  6. Committing: one [ProfileStore.TransactionalUpdate] for every player
//
// Any stage can end in Failed with a structured [UploadError]. Nothing is
// written before Committing, and Committing is not cancellable.
//
// # Statistics
//
// [Apply] is a pure fold of one game's delta into a [PlayerProfile]. Money
// is computed with shopspring/decimal and rounded half away from zero.
//
// # Undo
//
// Every commit leaves a [BackupSnapshot]. [Service.Undo] verifies the newest
// snapshot, restores it in one transactional update and then deletes it.
// Retention keeps at most five snapshots, none older than a day, within a
// byte budget.
//
// # Error Handling
//
// Every failure surfaces as an [UploadError] with a kind, subkind, severity
// and recoverable flag built from the static catalog. Errors from lower
// layers are adapted once at the boundary with [Classify]; an error that is
// already structured is never reclassified. The code shown to users for
// support is KIND/subkind, e.g. DUPLICATE/duplicate_game.
//
// # Audit Logging
//
// Commits, undos and resets are recorded through an [AuditSink] with
// severity levels:
//
//   - High: uploads, undos, seeds
//   - Critical: resets
package core
