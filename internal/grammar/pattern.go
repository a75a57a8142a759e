// Package grammar defines the JLPT grammar pattern records harvested by the crawler
// and their on-disk JSON representation.
package grammar

import (
	"errors"
	"fmt"
	"strconv"
)

// Level is a JLPT level, N5 (easiest) through N1.
type Level int

// Supported JLPT levels.
const (
	MinLevel Level = 1
	MaxLevel Level = 5
)

// ErrLevelOutOfRange is returned by ParseLevel and Level.Validate.
var ErrLevelOutOfRange = errors.New("jlpt level must be between 1 and 5")

// Validate reports whether l is a known JLPT level.
func (l Level) Validate() error {
	if l < MinLevel || l > MaxLevel {
		return fmt.Errorf("%w: got %d", ErrLevelOutOfRange, int(l))
	}
	return nil
}

// String renders the level the way the site does ("N3").
func (l Level) String() string {
	return "N" + strconv.Itoa(int(l))
}

// AllLevels returns every level in ascending order.
func AllLevels() []Level {
	out := make([]Level, 0, MaxLevel-MinLevel+1)
	for l := MinLevel; l <= MaxLevel; l++ {
		out = append(out, l)
	}
	return out
}

// ParseLevel converts a CLI value such as "3" or "n3" into a Level.
func ParseLevel(raw string) (Level, error) {
	if len(raw) > 1 && (raw[0] == 'n' || raw[0] == 'N') {
		raw = raw[1:]
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrLevelOutOfRange, raw)
	}
	l := Level(n)
	if err := l.Validate(); err != nil {
		return 0, err
	}
	return l, nil
}

// Example is one sample sentence attached to a pattern. The fragments are kept
// as the markup found on the detail page.
type Example struct {
	Main    string
	Furi    string
	Meaning string
}

// Pattern is a single grammar lesson. The listing fields are filled from the
// index table; Usage, Notes, FlashcardURL and Examples stay nil until the
// detail page has been enriched.
type Pattern struct {
	Level   Level
	PageURL string
	Num     int
	Eng     string
	Jap     string
	Meaning string

	Usage        *string
	Notes        *string
	FlashcardURL *string
	// FlashcardFilepath is reserved for a local copy of the flashcard image.
	// Nothing downloads the image yet, but consumers rely on the key.
	FlashcardFilepath *string
	Examples          []Example
}

// String is used in log lines.
func (p *Pattern) String() string {
	return fmt.Sprintf("%d: %s : %s : %s", p.Num, p.Eng, p.Jap, p.Meaning)
}

// Enriched reports whether any detail-page field has been populated.
func (p *Pattern) Enriched() bool {
	return p.Usage != nil || p.Notes != nil || p.FlashcardURL != nil || p.Examples != nil
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
