// Package tools provides ready-to-use toolregistry.Tool implementations a
// caller can register before attaching the orchestrator's tool-calling loop
// to a Model (spec §9's "example tool executors" note): expression
// evaluation and statistics, date/time operations, and outbound HTTP
// requests.
package tools

import "fmt"

// Common error sentinels shared across the built-in tools.
var (
	ErrInvalidInput    = fmt.Errorf("invalid input parameters")
	ErrOperationFailed = fmt.Errorf("operation failed")
)
