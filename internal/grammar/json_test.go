package grammar

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEmptyResult(t *testing.T) {
	t.Parallel()

	data, err := Encode(nil, DefaultIndent)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestEncodeRoundTripFullyEnriched(t *testing.T) {
	t.Parallel()

	in := &Pattern{
		Level:             3,
		PageURL:           "https://jlptsensei.com/learn-japanese-grammar/bakari-meaning/",
		Num:               1,
		Eng:               "bakari",
		Jap:               "ばかり",
		Meaning:           "only; nothing but",
		Usage:             StringPtr(`<table class="usage"><tr><td>Verb</td></tr></table>`),
		Notes:             StringPtr(`<div class="grammar-notes"><p>note &amp; more</p></div>`),
		FlashcardURL:      StringPtr("https://jlptsensei.com/img/bakari.png"),
		FlashcardFilepath: StringPtr("flashcards/bakari.png"),
		Examples: []Example{
			{Main: "<div>彼は遊んでばかりいる。</div>", Furi: "<div>かれはあそんでばかりいる。</div>", Meaning: "<div>He does nothing but play.</div>"},
		},
	}

	data, err := Encode([]*Pattern{in}, DefaultIndent)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `\u003c`, "markup must not be HTML-escaped")

	out, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0])
}

func TestMarshalUnsetFields(t *testing.T) {
	t.Parallel()

	p := Pattern{Level: 5, PageURL: "https://example.com/a", Num: 7, Eng: "a", Jap: "あ", Meaning: "m"}
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 11)
	assert.Equal(t, None, raw["usage"])
	assert.Equal(t, None, raw["notes"])
	assert.Nil(t, raw["flashcardUrl"])
	assert.Contains(t, raw, "flashcardFilepath")
	assert.Nil(t, raw["flashcardFilepath"])
	assert.Equal(t, []any{}, raw["sampleSentences"])
	assert.EqualValues(t, 5, raw["level"])
	assert.EqualValues(t, 7, raw["num"])
}

func TestEncodeKeepsCallerOrder(t *testing.T) {
	t.Parallel()

	items := []*Pattern{{Num: 1}, nil, {Num: 2}}
	data, err := Encode(items, "")
	require.NoError(t, err)

	out, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Num)
	assert.Equal(t, 2, out[1].Num)
}
