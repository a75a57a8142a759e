// Package progress defines the events emitted while a level is crawled.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StagePageListed   Stage = "PAGE_LISTED"
	StagePageFailed   Stage = "PAGE_FAILED"
	StageItemEnriched Stage = "ITEM_ENRICHED"
	StageHeartbeat    Stage = "RUN_HEARTBEAT"
	StageRunDone      Stage = "RUN_DONE"
	StageRunCancelled Stage = "RUN_CANCELLED"
	StageRunError     Stage = "RUN_ERROR"
)

// Event captures a single milestone of a crawl run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Level is the JLPT level being crawled (1..5).
	Level int
	// URL is the index or detail page the event refers to, if any.
	URL string
	// Num is the ordinal of the grammar pattern for item events.
	Num int
	// Items is the number of rows listed (page events) or saved (run done).
	Items int
	// Remaining is the queue length observed by a heartbeat.
	Remaining int
	// Dur is the elapsed time for run completions and enrichments.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Level < 1 || e.Level > 5 {
		return fmt.Errorf("level %d out of range", e.Level)
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunCancelled, StageRunError:
	case StagePageListed, StagePageFailed:
		if e.URL == "" {
			return errors.New("page event requires url")
		}
	case StageItemEnriched:
		if e.URL == "" {
			return errors.New("item event requires url")
		}
	case StageHeartbeat:
		if e.Remaining < 0 {
			return errors.New("remaining must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
