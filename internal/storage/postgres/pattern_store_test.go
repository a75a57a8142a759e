package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
)

var testRunID = [16]byte{0x01, 0x93, 0x7a, 0x00, 0, 0, 0x70, 0, 0x80, 0, 0, 0, 0, 0, 0, 0x01}

func TestUpsertPatternsWritesEveryRowInOneTx(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPatternStoreWithPool(mock, "")
	require.NoError(t, err)

	crawledAt := time.Unix(1700000000, 0).UTC()
	usage := `<table class="usage"></table>`
	patterns := []*grammar.Pattern{
		{
			Level: 5, Num: 1, PageURL: "https://jlptsensei.com/a/", Eng: "dake", Jap: "だけ", Meaning: "only",
			Usage:    &usage,
			Examples: []grammar.Example{{Main: "<div>m</div>", Furi: grammar.None, Meaning: "<div>e</div>"}},
		},
		nil,
		{Level: 5, Num: 2, PageURL: "https://jlptsensei.com/b/", Eng: "mo", Jap: "も", Meaning: "also"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO grammar_patterns").
		WithArgs(
			5, "https://jlptsensei.com/a/", 1, "dake", "だけ", "only",
			&usage, (*string)(nil), (*string)(nil),
			[]byte(`[{"main":"<div>m</div>","furi":"None","meaning":"<div>e</div>"}]`),
			"01937a00-0000-7000-8000-000000000001",
			crawledAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO grammar_patterns").
		WithArgs(
			5, "https://jlptsensei.com/b/", 2, "mo", "も", "also",
			(*string)(nil), (*string)(nil), (*string)(nil),
			[]byte(`[]`),
			pgxmock.AnyArg(),
			crawledAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertPatterns(context.Background(), testRunID, crawledAt, patterns))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPatternsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPatternStoreWithPool(mock, "n5_patterns")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO n5_patterns").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err = store.UpsertPatterns(context.Background(), testRunID, time.Now(), []*grammar.Pattern{
		{Level: 5, Num: 9, PageURL: "https://jlptsensei.com/z/"},
	})
	require.ErrorContains(t, err, "upsert pattern 9: unique violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPatternStoreWithPool(mock, "grammar_patterns")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS grammar_patterns").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPatternStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPatternStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewPatternStoreWithPool(mock, "grammar; DROP TABLE users")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewPatternStore(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn is required")
}

func TestMarshalExamplesKeepsMarkupUnescaped(t *testing.T) {
	t.Parallel()

	data, err := marshalExamples([]grammar.Example{
		{Main: `<span class="jp">食べる&amp;</span>`, Furi: grammar.None, Meaning: "<b>eat</b>"},
	})
	require.NoError(t, err)
	require.Equal(t, `[{"main":"<span class=\"jp\">食べる&amp;</span>","furi":"None","meaning":"<b>eat</b>"}]`, string(data))

	data, err = marshalExamples(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}
