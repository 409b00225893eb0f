package common

import "errors"

// ErrModulePaused is returned by Guard when a module has been halted by the
// operator.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a native module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutating operations for paused modules. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
