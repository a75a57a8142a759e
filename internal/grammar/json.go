package grammar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// None is written in place of markup fields that were never extracted.
const None = "None"

// DefaultIndent matches the layout of previously published artifacts.
const DefaultIndent = "    "

type exampleRecord struct {
	Main    string `json:"main"`
	Furi    string `json:"furi"`
	Meaning string `json:"meaning"`
}

type patternRecord struct {
	Level             int             `json:"level"`
	PageURL           string          `json:"pageUrl"`
	Num               int             `json:"num"`
	Eng               string          `json:"eng"`
	Jap               string          `json:"jap"`
	Meaning           string          `json:"meaning"`
	Usage             string          `json:"usage"`
	Notes             string          `json:"notes"`
	FlashcardURL      *string         `json:"flashcardUrl"`
	FlashcardFilepath *string         `json:"flashcardFilepath"`
	SampleSentences   []exampleRecord `json:"sampleSentences"`
}

func markupOrNone(s *string) string {
	if s == nil {
		return None
	}
	return *s
}

func noneToNil(s string) *string {
	if s == None {
		return nil
	}
	return StringPtr(s)
}

// MarshalJSON writes the fixed artifact keys.
func (p Pattern) MarshalJSON() ([]byte, error) {
	rec := patternRecord{
		Level:             int(p.Level),
		PageURL:           p.PageURL,
		Num:               p.Num,
		Eng:               p.Eng,
		Jap:               p.Jap,
		Meaning:           p.Meaning,
		Usage:             markupOrNone(p.Usage),
		Notes:             markupOrNone(p.Notes),
		FlashcardURL:      p.FlashcardURL,
		FlashcardFilepath: p.FlashcardFilepath,
		SampleSentences:   make([]exampleRecord, 0, len(p.Examples)),
	}
	for _, ex := range p.Examples {
		rec.SampleSentences = append(rec.SampleSentences, exampleRecord(ex))
	}
	return marshalRaw(rec)
}

// marshalRaw is json.Marshal without HTML escaping.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON reads an artifact entry back. "None" markup becomes nil and an
// empty sampleSentences array stays nil.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var rec patternRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode pattern: %w", err)
	}
	*p = Pattern{
		Level:             Level(rec.Level),
		PageURL:           rec.PageURL,
		Num:               rec.Num,
		Eng:               rec.Eng,
		Jap:               rec.Jap,
		Meaning:           rec.Meaning,
		Usage:             noneToNil(rec.Usage),
		Notes:             noneToNil(rec.Notes),
		FlashcardURL:      rec.FlashcardURL,
		FlashcardFilepath: rec.FlashcardFilepath,
	}
	for _, ex := range rec.SampleSentences {
		p.Examples = append(p.Examples, Example(ex))
	}
	return nil
}

// Encode renders patterns as the artifact JSON array. HTML is not escaped
// because usage, notes and examples carry raw markup.
func Encode(patterns []*Pattern, indent string) ([]byte, error) {
	out := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p == nil {
			continue
		}
		out = append(out, *p)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode patterns: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode reads an artifact produced by Encode.
func Decode(r io.Reader) ([]*Pattern, error) {
	var items []Pattern
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode patterns: %w", err)
	}
	out := make([]*Pattern, 0, len(items))
	for i := range items {
		out = append(out, &items[i])
	}
	return out, nil
}
