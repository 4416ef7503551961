package action

import (
	"strings"

	"github.com/rflorenc/cics-explorer/internal/resources"
)

// Expect returns the predicate that marks action as complete on kind, or nil
// when the PUT response already reflects the new state and a single re-read
// is enough.
func Expect(kind resources.Kind, action string) Until {
	enableAttr := kind.EnableAttr
	if enableAttr == "" {
		enableAttr = kind.StatusAttr
	}
	switch strings.ToUpper(action) {
	case Enable:
		if enableAttr == "" {
			return nil
		}
		return StatusIs(enableAttr, "ENABLED")
	case Disable:
		if enableAttr == "" {
			return nil
		}
		return StatusIs(enableAttr, "DISABLED")
	case Open:
		if kind.StatusAttr != "openstatus" {
			return nil
		}
		return StatusIs("openstatus", "OPEN")
	case Close:
		if kind.StatusAttr != "openstatus" {
			return nil
		}
		return StatusIs("openstatus", "CLOSED")
	}
	return nil
}
