package grammar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelValidate(t *testing.T) {
	t.Parallel()

	for _, l := range AllLevels() {
		require.NoError(t, l.Validate(), "level %d", l)
	}
	for _, l := range []Level{-1, 0, 6, 42} {
		err := l.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLevelOutOfRange))
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "3", want: 3},
		{in: "n1", want: 1},
		{in: "N5", want: 5},
		{in: "0", wantErr: true},
		{in: "6", wantErr: true},
		{in: "n", wantErr: true},
		{in: "three", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrLevelOutOfRange, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPatternEnriched(t *testing.T) {
	t.Parallel()

	p := &Pattern{Num: 1}
	assert.False(t, p.Enriched())
	p.Notes = StringPtr("<div></div>")
	assert.True(t, p.Enriched())
	assert.Equal(t, "N4", Level(4).String())
}
