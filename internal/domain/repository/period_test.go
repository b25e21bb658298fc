package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/errs"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" 2Y ")
	require.NoError(t, err)
	assert.Equal(t, Period2Y, p)

	_, err = ParsePeriod("3w")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestCovering(t *testing.T) {
	tests := []struct {
		in   Period
		n    int
		want Period
	}{
		{Period3Mo, 58, Period3Mo},
		{Period3Mo, 60, Period6Mo},
		{Period1Mo, 60, Period6Mo},
		{Period2Y, 60, Period2Y},
		{PeriodYTD, 60, Period6Mo},
		{PeriodMax, 5000, PeriodMax},
		{Period1Y, 100000, PeriodMax},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Covering(tt.in, tt.n), "%s/%d", tt.in, tt.n)
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2024, 5, 15, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), Period3Mo.Start(now))
	assert.Equal(t, time.Date(2022, 5, 15, 0, 0, 0, 0, time.UTC), Period2Y.Start(now))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), PeriodYTD.Start(now))
	assert.True(t, PeriodMax.Start(now).IsZero())
}
