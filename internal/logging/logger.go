// Package logging builds the process logger.
package logging

import (
	"go.uber.org/zap"
)

// New returns a JSON production logger, or a human-readable development
// logger for any other environment.
func New(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
