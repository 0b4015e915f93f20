package schedule

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/npamcp/internal/errortypes"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"numeric_day", "10 0 * * 2", "10 0 * * TUE"},
		{"canonical_unchanged", "0 10 * * TUE", "0 10 * * TUE"},
		{"lowercase_name", "30 2 * * mon", "30 2 * * MON"},
		{"full_name", "0 3 * * Sunday", "0 3 * * SUN"},
		{"list", "0 3 * * 1,3,fri", "0 3 * * MON,WED,FRI"},
		{"duplicates_collapse", "0 3 * * 1,MON,monday", "0 3 * * MON"},
		{"leading_zeros", "05 09 * * 6", "5 9 * * SAT"},
		{"extra_whitespace", "  0   10 *  * TUE ", "0 10 * * TUE"},
		{"bounds", "59 23 * * 0", "59 23 * * SUN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := Normalize(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "normalize must be idempotent")
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"non_wildcard_day", "10 0 5 * MON"},
		{"minute_out_of_range", "70 0 * * MON"},
		{"hour_out_of_range", "0 24 * * MON"},
		{"non_wildcard_month", "0 1 * 6 MON"},
		{"four_fields", "0 1 * *"},
		{"six_fields", "0 0 1 * * MON"},
		{"empty", ""},
		{"dow_seven", "0 1 * * 7"},
		{"dow_wildcard", "0 1 * * *"},
		{"unknown_day", "0 1 * * FUNDAY"},
		{"minute_step", "*/5 1 * * MON"},
		{"minute_range", "0-5 1 * * MON"},
		{"negative", "-1 1 * * MON"},
		{"empty_list_item", "0 1 * * MON,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			require.Error(t, err)
			assert.True(t, errortypes.IsFormatError(err), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), "MIN HOUR * * DAY")
		})
	}
}

// HumanToCron emits the same minute-first layout Normalize validates, so
// "10:00" becomes "0 10", not "10 0".
func TestHumanToCron(t *testing.T) {
	got, err := HumanToCron("TUE", "10:00")
	require.NoError(t, err)
	assert.Equal(t, "0 10 * * TUE", got)

	got, err = HumanToCron("wednesday", "2:30")
	require.NoError(t, err)
	assert.Equal(t, "30 2 * * WED", got)

	got, err = HumanToCron("mon,fri", "23:59")
	require.NoError(t, err)
	assert.Equal(t, "59 23 * * MON,FRI", got)

	for _, tc := range [][2]string{
		{"FUNDAY", "10:00"},
		{"TUE", "24:00"},
		{"TUE", "10:60"},
		{"TUE", "1000"},
		{"TUE", "10:5"},
		{"", "10:00"},
	} {
		_, err := HumanToCron(tc[0], tc[1])
		assert.True(t, errortypes.IsFormatError(err), "day=%q time=%q", tc[0], tc[1])
	}
}

func TestCanonicalizeShorthandMatchesCron(t *testing.T) {
	fromShorthand, err := Canonicalize("TUE 10:00")
	require.NoError(t, err)
	fromCron, err := Canonicalize("0 10 * * 2")
	require.NoError(t, err)

	assert.Equal(t, fromCron, fromShorthand)

	_, err = Canonicalize("every tuesday")
	assert.True(t, errortypes.IsFormatError(err))
}

func TestDescribe(t *testing.T) {
	got, err := Describe("0 10 * * TUE")
	require.NoError(t, err)
	assert.Equal(t, "every TUE at 10:00", got)

	got, err = Describe("MON,THU 2:05")
	require.NoError(t, err)
	assert.Equal(t, "every MON, THU at 02:05", got)
}

func TestNormalizeConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Normalize("10 0 * * 2")
			assert.NoError(t, err)
			assert.Equal(t, "10 0 * * TUE", got)
		}()
	}
	wg.Wait()
}
