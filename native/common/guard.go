package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused is returned by Guard while an operator pause is active.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause toggles keyed by module name.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused, annotated with the module name, when the
// module is paused. A nil view never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%s: %w", module, ErrModulePaused)
	}
	return nil
}
