package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON and, for the known lifecycle
// subjects, that it decodes into an Event naming a memory. Unknown subjects
// pass validation so new message types can roll out without a lockstep
// upgrade.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectMemoryStored, SubjectMemoryForgotten, SubjectMemoryLinked:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if ev.MemoryID == "" {
			return fmt.Errorf("%s event missing memory_id", subject)
		}
		return nil
	default:
		return nil
	}
}
