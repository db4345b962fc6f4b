package ir

// Version constants for the record schema and engine.
const (
	// SchemaVersion is the audit record schema version.
	SchemaVersion = "1"

	// EngineVersion is the procflow engine version.
	EngineVersion = "0.1.0"
)
