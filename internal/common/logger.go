package common

import (
	"go.uber.org/zap"
)

// NewLogger builds the process-wide zap logger. Components receive it by
// injection; there is no package-level logger state.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
