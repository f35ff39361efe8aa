// Package emoji validates reaction symbols.
package emoji

import (
	"fmt"

	"github.com/forPelevin/gomoji"

	"github.com/avolkov/wirechat/internal/errs"
)

// MaxSymbolBytes caps the raw symbol length before any emoji parsing runs.
const MaxSymbolBytes = 32

// ValidateReaction checks that the symbol is exactly one emoji with nothing
// alongside it. Returns ErrValidationFailed otherwise.
func ValidateReaction(symbol string) error {
	if symbol == "" || len(symbol) > MaxSymbolBytes {
		return fmt.Errorf("reaction symbol length: %w", errs.ErrValidationFailed)
	}
	found := gomoji.CollectAll(symbol)
	if len(found) != 1 || found[0].Character != symbol {
		return fmt.Errorf("reaction must be a single emoji: %w", errs.ErrValidationFailed)
	}
	return nil
}
