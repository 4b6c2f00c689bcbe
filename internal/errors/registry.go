package errors

import "sort"

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// Registered codes.
const (
	CodeConfigNotFound     = "RV001"
	CodeConfigParse        = "RV002"
	CodeConfigInvalid      = "RV003"
	CodeConfigUnknownField = "RV004"

	CodeConnect      = "RV100"
	CodeListen       = "RV101"
	CodeTransport    = "RV110"
	CodeCodec        = "RV111"
	CodeProtocol     = "RV112"
	CodeSessionAbort = "RV113"

	CodeStorageURL   = "RV200"
	CodeStorageWrite = "RV201"

	CodeInvalidFlag = "RV300"
)

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Configuration (RV001-RV099)
	CodeConfigNotFound: {
		Category:   CategoryConfig,
		Message:    "Configuration file not found",
		Detail:     "The file given with --config does not exist.",
		Suggestion: "Check the path, or omit --config to use the defaults.",
	},
	CodeConfigParse: {
		Category: CategoryConfig,
		Message:  "Configuration file could not be parsed",
		Detail:   "remoteviz reads JSON (.json) and YAML (.yaml, .yml) configuration files.",
	},
	CodeConfigInvalid: {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
	},
	CodeConfigUnknownField: {
		Category:   CategoryConfig,
		Message:    "Unknown configuration key",
		Suggestion: "Compare the key against the sample in the README.",
	},

	// Sessions (RV100-RV199)
	CodeConnect: {
		Category:   CategoryConnection,
		Message:    "Cannot reach the worker",
		Detail:     "The viewer could not open a connection to the render worker.",
		Suggestion: "Start the worker first and check --host, --port and --transport on both sides.",
	},
	CodeListen: {
		Category:   CategoryConnection,
		Message:    "Cannot accept a viewer",
		Detail:     "The worker could not bind its port or no viewer connected.",
		Suggestion: "Check that the port is free.",
	},
	CodeTransport: {
		Category: CategorySession,
		Message:  "Connection lost",
		Detail:   "The peer closed the connection or the network failed mid-session. Sessions are not resumed.",
	},
	CodeCodec: {
		Category: CategorySession,
		Message:  "Frame compression failed",
	},
	CodeProtocol: {
		Category:   CategorySession,
		Message:    "Peer sent malformed data",
		Detail:     "The wire format carries no version tag, so mismatched builds show up as garbage lengths or flags.",
		Suggestion: "Run the same remoteviz version on both ends, on hosts of the same byte order.",
	},
	CodeSessionAbort: {
		Category: CategorySession,
		Message:  "Session aborted",
	},

	// Storage (RV200-RV299)
	CodeStorageURL: {
		Category:   CategoryStorage,
		Message:    "Invalid frame store location",
		Suggestion: "Use a directory path or s3://bucket/prefix.",
	},
	CodeStorageWrite: {
		Category: CategoryStorage,
		Message:  "Could not write frame",
	},

	// CLI (RV300-RV399)
	CodeInvalidFlag: {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template Template) {
	registry[code] = template
}
