package core

// error_catalog.go is the static catalog of structured error templates.
//
// Every template is keyed by (kind, subkind). Codes are formatted as
// KIND/subkind for support reference, e.g. DUPLICATE/duplicate_game.
//
// # File Validation (FILE_VALIDATION)
//
//	empty_file        - the uploaded file has no content
//	file_too_small    - below the minimum size
//	file_too_large    - above the maximum size
//	invalid_filename  - name does not match ledgerYY_MM_DD.csv or ledgerYY_MM_DD(n).csv
//	binary_content    - NUL bytes detected
//	read_failed       - the file could not be read
//
// # Parsing (PARSING)
//
//	malformed_csv     - quoting or delimiter error
//	missing_header    - no header row
//	missing_columns   - required columns absent
//
// # Data Validation (DATA_VALIDATION)
//
//	invalid_date_format, missing_field, field_too_long, invalid_number,
//	negative_buy_in, invalid_timestamp, net_mismatch, no_valid_rows,
//	insufficient_rows, too_many_rows
//
// # Player Matching, Persistence, Duplicate, System, Network, Permission
//
// See the table below. Severity drives presentation: low and medium are
// advisory and may be auto-dismissed.
//
// To add a new template:
//  1. Add the subkind constant
//  2. Add the catalog entry in the matching section
//  3. Add classification patterns in classify.go if lower layers raise it as text

// Subkinds.
const (
	SubEmptyFile       = "empty_file"
	SubFileTooSmall    = "file_too_small"
	SubFileTooLarge    = "file_too_large"
	SubInvalidFilename = "invalid_filename"
	SubBinaryContent   = "binary_content"
	SubReadFailed      = "read_failed"

	SubMalformedCSV   = "malformed_csv"
	SubMissingHeader  = "missing_header"
	SubMissingColumns = "missing_columns"

	SubInvalidDateFormat = "invalid_date_format"
	SubMissingField      = "missing_field"
	SubFieldTooLong      = "field_too_long"
	SubInvalidNumber     = "invalid_number"
	SubNegativeBuyIn     = "negative_buy_in"
	SubInvalidTimestamp  = "invalid_timestamp"
	SubNetMismatch       = "net_mismatch"
	SubNoValidRows       = "no_valid_rows"
	SubInsufficientRows  = "insufficient_rows"
	SubTooManyRows       = "too_many_rows"

	SubUnmatchedPlayers = "unmatched_players"
	SubNoProfiles       = "no_profiles"

	SubFetchFailed     = "fetch_failed"
	SubCommitFailed    = "commit_failed"
	SubCommitAmbiguous = "commit_ambiguous"
	SubPlayerMissing   = "player_missing"
	SubConflict        = "conflict"
	SubRestoreFailed   = "restore_failed"

	SubDuplicateGame   = "duplicate_game"
	SubDuplicateUpload = "duplicate_upload"

	SubUnknown             = "unknown"
	SubOperationInProgress = "operation_in_progress"
	SubCancelled           = "cancelled"
	SubBackupFailed        = "backup_failed"
	SubSnapshotNotFound    = "snapshot_not_found"
	SubSnapshotCorrupt     = "snapshot_corrupt"
	SubNoSnapshot          = "no_snapshot"
	SubSnapshotNotLatest   = "snapshot_not_latest"
	SubStorageQuota        = "storage_quota"

	SubOffline          = "offline"
	SubTimeout          = "timeout"
	SubConnectionFailed = "connection_failed"

	SubDenied = "denied"
)

type catalogKey struct {
	kind    ErrorKind
	subkind string
}

type errorTemplate struct {
	message     string
	detail      string
	hints       []string
	severity    Severity
	recoverable bool
}

var fallbackTemplate = errorTemplate{
	message:     "An unexpected error occurred",
	detail:      "The operation failed for a reason that could not be identified.",
	hints:       []string{"Please try again", "Check the application logs if the problem persists"},
	severity:    SeverityHigh,
	recoverable: true,
}

func lookupTemplate(kind ErrorKind, subkind string) (errorTemplate, bool) {
	if kind == KindSystem && subkind == SubUnknown {
		return fallbackTemplate, true
	}
	t, ok := errorCatalog[catalogKey{kind, subkind}]
	return t, ok
}

var errorCatalog = map[catalogKey]errorTemplate{
	// =========================================================================
	// File Validation
	// =========================================================================
	{KindFileValidation, SubEmptyFile}: {
		message:     "The uploaded file is empty",
		hints:       []string{"Export the ledger again and upload the new file"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindFileValidation, SubFileTooSmall}: {
		message:     "File is too small to be a ledger ({size} bytes)",
		detail:      "Files must be at least {min} bytes.",
		hints:       []string{"Make sure the file contains a header and data rows"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindFileValidation, SubFileTooLarge}: {
		message:     "File exceeds the maximum size ({size} bytes)",
		detail:      "Files must be at most {max} bytes.",
		hints:       []string{"Upload one game ledger per file"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindFileValidation, SubInvalidFilename}: {
		message:     "File name {filename} is not a ledger file name",
		detail:      "Expected ledgerYY_MM_DD.csv or ledgerYY_MM_DD(n).csv.",
		hints:       []string{"Rename the file to match the game date, e.g. ledger23_10_15.csv"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindFileValidation, SubBinaryContent}: {
		message:     "File appears to be binary, not CSV",
		hints:       []string{"Save the ledger as a plain-text CSV file"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindFileValidation, SubReadFailed}: {
		message:     "The file could not be read",
		hints:       []string{"Try selecting the file again"},
		severity:    SeverityMedium,
		recoverable: true,
	},

	// =========================================================================
	// Parsing
	// =========================================================================
	{KindParsing, SubMalformedCSV}: {
		message:     "File is not a valid CSV",
		detail:      "Line {line}: {reason}",
		hints:       []string{"Check quoting: a quote inside a quoted field must be doubled"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindParsing, SubMissingHeader}: {
		message:     "File has no header row",
		hints:       []string{"The first line must list the column names"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindParsing, SubMissingColumns}: {
		message:     "Required columns are missing: {columns}",
		hints:       []string{"Required columns: nickname, id, buyIn, stack, net"},
		severity:    SeverityMedium,
		recoverable: true,
	},

	// =========================================================================
	// Data Validation
	// =========================================================================
	{KindDataValidation, SubInvalidDateFormat}: {
		message:     "File name {filename} does not contain a valid date",
		detail:      "Month must be 01-12 and the day must exist in that month.",
		hints:       []string{"Rename the file to the real game date"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindDataValidation, SubMissingField}: {
		message:     "Row {line}: {field} is required",
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindDataValidation, SubFieldTooLong}: {
		message:     "Row {line}: {field} exceeds {max} characters",
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindDataValidation, SubInvalidNumber}: {
		message:     "Row {line}: {field} is not a valid number ({value})",
		hints:       []string{"Amounts are whole cents without currency symbols"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindDataValidation, SubNegativeBuyIn}: {
		message:     "Row {line}: buy-in cannot be negative",
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindDataValidation, SubInvalidTimestamp}: {
		message:     "Row {line}: {field} is not a valid timestamp and was ignored",
		severity:    SeverityLow,
		recoverable: true,
	},
	{KindDataValidation, SubNetMismatch}: {
		message:     "Row {line}: net does not equal buy-out + stack - buy-in",
		detail:      "Expected {expected} cents, found {net} cents.",
		severity:    SeverityLow,
		recoverable: true,
	},
	{KindDataValidation, SubNoValidRows}: {
		message:     "No valid rows were found",
		hints:       []string{"Fix the reported rows and upload again"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindDataValidation, SubInsufficientRows}: {
		message:     "A game needs at least {min} valid rows, found {count}",
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindDataValidation, SubTooManyRows}: {
		message:     "A ledger may contain at most {max} rows, found {count}",
		severity:    SeverityMedium,
		recoverable: true,
	},

	// =========================================================================
	// Player Matching
	// =========================================================================
	{KindPlayerMatching, SubUnmatchedPlayers}: {
		message:     "Unknown players: {nicknames}",
		detail:      "Every nickname must belong to a profile. Nothing was saved.",
		hints:       []string{"Add the nickname to a player's aliases, or exclude it from the upload"},
		severity:    SeverityHigh,
		recoverable: true,
	},
	{KindPlayerMatching, SubNoProfiles}: {
		message:     "No player profiles exist yet",
		hints:       []string{"Seed the profile store before uploading games"},
		severity:    SeverityHigh,
		recoverable: true,
	},

	// =========================================================================
	// Persistence
	// =========================================================================
	{KindPersistence, SubFetchFailed}: {
		message:     "Player profiles could not be loaded",
		hints:       []string{"Please try again in a few moments"},
		severity:    SeverityHigh,
		recoverable: true,
	},
	{KindPersistence, SubCommitFailed}: {
		message:     "The game could not be saved",
		detail:      "The store rejected the update. No changes were applied.",
		hints:       []string{"Please try again"},
		severity:    SeverityHigh,
		recoverable: true,
	},
	{KindPersistence, SubCommitAmbiguous}: {
		message:     "Saving the game did not complete cleanly",
		detail:      "The store did not confirm the update; some or all writes may have landed.",
		hints:       []string{"Use undo if the game appears in player stats"},
		severity:    SeverityCritical,
		recoverable: false,
	},
	{KindPersistence, SubPlayerMissing}: {
		message:     "Player {key} no longer exists",
		hints:       []string{"Restore the missing profile before retrying"},
		severity:    SeverityHigh,
		recoverable: false,
	},
	{KindPersistence, SubConflict}: {
		message:     "Profiles were modified by another update",
		hints:       []string{"Reload and try again"},
		severity:    SeverityHigh,
		recoverable: true,
	},
	{KindPersistence, SubRestoreFailed}: {
		message:     "Undo could not be applied",
		detail:      "The restore transaction failed. No profiles were changed and the backup was kept.",
		hints:       []string{"Please try again"},
		severity:    SeverityHigh,
		recoverable: true,
	},

	// =========================================================================
	// Duplicate
	// =========================================================================
	{KindDuplicate, SubDuplicateGame}: {
		message:     "A game on {date} has already been recorded",
		hints:       []string{"Use undo first if you need to replace that game"},
		severity:    SeverityMedium,
		recoverable: false,
	},
	{KindDuplicate, SubDuplicateUpload}: {
		message:     "{filename} was already uploaded in this session",
		severity:    SeverityMedium,
		recoverable: false,
	},

	// =========================================================================
	// System
	// =========================================================================
	{KindSystem, SubOperationInProgress}: {
		message:     "Another upload or undo is in progress",
		hints:       []string{"Wait for it to finish and try again"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindSystem, SubCancelled}: {
		message:     "The operation was cancelled",
		severity:    SeverityLow,
		recoverable: true,
	},
	{KindSystem, SubBackupFailed}: {
		message:     "A backup could not be created, so nothing was saved",
		hints:       []string{"Please try again"},
		severity:    SeverityHigh,
		recoverable: true,
	},
	{KindSystem, SubSnapshotNotFound}: {
		message:     "Backup {snapshot_id} was not found",
		hints:       []string{"Backups expire after 24 hours or when newer ones replace them"},
		severity:    SeverityMedium,
		recoverable: false,
	},
	{KindSystem, SubSnapshotCorrupt}: {
		message:     "Backup {snapshot_id} is damaged and cannot be restored",
		detail:      "{reason}",
		severity:    SeverityHigh,
		recoverable: false,
	},
	{KindSystem, SubNoSnapshot}: {
		message:     "There is nothing to undo",
		severity:    SeverityLow,
		recoverable: false,
	},
	{KindSystem, SubSnapshotNotLatest}: {
		message:     "Only the most recent change can be undone",
		detail:      "Backup {snapshot_id} is older than {latest_id}",
		hints:       []string{"Undo the most recent change first"},
		severity:    SeverityMedium,
		recoverable: true,
	},
	{KindSystem, SubStorageQuota}: {
		message:     "Backup storage is full; undo is unavailable for this game",
		severity:    SeverityMedium,
		recoverable: true,
	},

	// =========================================================================
	// Network
	// =========================================================================
	{KindNetwork, SubOffline}: {
		message:     "The profile store is unreachable",
		hints:       []string{"Check your connection and try again"},
		severity:    SeverityHigh,
		recoverable: true,
	},
	{KindNetwork, SubTimeout}: {
		message:     "The request timed out",
		hints:       []string{"Please try again"},
		severity:    SeverityHigh,
		recoverable: true,
	},
	{KindNetwork, SubConnectionFailed}: {
		message:     "Connection to the profile store failed",
		hints:       []string{"Please try again in a few moments"},
		severity:    SeverityHigh,
		recoverable: true,
	},

	// =========================================================================
	// Permission
	// =========================================================================
	{KindPermission, SubDenied}: {
		message:     "You do not have permission to perform this action",
		hints:       []string{"Check the API key"},
		severity:    SeverityHigh,
		recoverable: false,
	},
}
