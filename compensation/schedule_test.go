package compensation_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpcr/caseflow/compensation"
)

func TestSchedule_TotalForSumsSections(t *testing.T) {
	s := compensation.Default()

	total, err := s.TotalFor([]string{"3(1)(r)", "3(2)(va)"})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(300000)))

	// Codes are matched case- and whitespace-insensitively.
	total, err = s.TotalFor([]string{" 3(2)(V) "})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(400000)))
}

func TestSchedule_TotalForRejectsUnknownAndEmpty(t *testing.T) {
	s := compensation.Default()

	_, err := s.TotalFor([]string{"3(1)(r)", "9(9)(z)"})
	assert.ErrorContains(t, err, "9(9)(z)")

	_, err = s.TotalFor(nil)
	assert.Error(t, err)
}

func TestSchedule_Amount(t *testing.T) {
	s := compensation.Default()

	amt, ok := s.Amount("3(1)(w)")
	require.True(t, ok)
	assert.True(t, amt.Equal(decimal.NewFromInt(200000)))

	_, ok = s.Amount("nonsense")
	assert.False(t, ok)
}

func TestSchedule_SectionsSorted(t *testing.T) {
	s := compensation.New(map[string]decimal.Decimal{
		"B": decimal.NewFromInt(2),
		"a": decimal.NewFromInt(1),
	})
	assert.Equal(t, []string{"a", "b"}, s.Sections())
}

func TestParseSections(t *testing.T) {
	assert.Equal(t, []string{"3(1)(r)", "3(2)(va)"}, compensation.ParseSections("3(1)(r), 3(2)(va)"))
	assert.Equal(t, []string{"3(1)(r)"}, compensation.ParseSections(" 3(1)(r) ,, "))
	assert.Nil(t, compensation.ParseSections(""))
	assert.Nil(t, compensation.ParseSections(" , "))
}
