// Package errors provides structured, actionable error messages for the
// remoteviz CLI and configuration loader.
//
// Each error carries a registered code (e.g. "RV100") that maps to a
// category, a short message, a longer explanation and usually a hint:
//
//	err := errors.New("RV100").
//	    WithDetail("dial tcp 10.0.0.5:29374: connection refused").
//	    WithSuggestion("start the worker first: remoteviz worker")
//
//	fmt.Print(err.Format())
//	// ERROR RV100: Cannot reach the worker
//	//
//	//   dial tcp 10.0.0.5:29374: connection refused
//	//
//	//   Hint: start the worker first: remoteviz worker
//
// # Categories
//
//   - config: the configuration file is missing, malformed or invalid
//   - connection: a session could not be established
//   - session: an established session failed (transport, codec, protocol)
//   - storage: frames could not be written to a frame store
//   - cli: bad command line usage
package errors
