package common

import "errors"

// ErrModulePaused is returned by Guard when a module's pause flag is set.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause flag of a native module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects calls into a paused module. A nil view or an unnamed module
// never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
