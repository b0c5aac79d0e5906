package domain

// Top-level field names of the shared game document. Writes are partial
// merges against these fields; "player" and "gameStarted" are legacy fields
// kept on the wire for compatibility with older clients.
const (
	FieldPlayer         = "player"
	FieldResults        = "results"
	FieldScannedQRCodes = "scannedQRCodes"
	FieldStatus         = "status"
	FieldTimeRemaining  = "timeRemaining"
	FieldTeams          = "teams"
	FieldGameStarted    = "gameStarted"
)
