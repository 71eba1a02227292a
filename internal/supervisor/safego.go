package supervisor

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// runGuarded calls fn and converts a panic into a logged error instead of
// letting it escape: a panicking rule task must not bring down the whole
// process and every other rule's forwarder along with it.
func runGuarded(log *slog.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked",
				"task", name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	return fn()
}
