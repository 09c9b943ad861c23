package date

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTime assert that the time() is cannonical and gives comparable times.
func TestTime(t *testing.T) {
	d1 := New(2025, 7, 31)
	d2 := New(2025, 7, 31)

	// Note that usually time.Time are not comparable (there is a pointer for the timezone) this
	// tests also checks that the property remain true
	assert.Equal(t, d1.time(), d2.time(), "same day gives two different time")
}

func TestParse(t *testing.T) {
	d, err := Parse("2025-7-1")
	require.NoError(t, err)
	assert.Equal(t, New(2025, time.July, 1), d)
	assert.Equal(t, "2025-07-01", d.String())

	_, err = Parse("01/07/2025")
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	a, b := New(2024, 12, 31), New(2025, 1, 1)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, 0, a.Compare(New(2024, 12, 31)))
	assert.Equal(t, 1, b.Days(a)*-1)
}

func TestOwnershipYears(t *testing.T) {
	testCases := []struct {
		buy, sell string
		want      int
	}{
		{"2014-03-19", "2014-03-19", 0},
		{"2014-03-19", "2015-03-19", 1},
		{"2014-03-19", "2016-03-19", 2},
		{"2014-03-19", "2017-03-19", 3},
		{"2014-03-19", "2017-03-18", 2},
		{"2014-03-19", "2017-03-20", 3},

		{"2020-02-29", "2020-02-29", 0},
		{"2020-02-29", "2020-03-01", 0},
		{"2020-02-29", "2021-02-27", 0},
		{"2020-02-29", "2021-02-28", 1},
		{"2020-02-29", "2021-03-01", 1},
		{"2020-02-29", "2024-02-28", 3},
		{"2020-02-29", "2024-02-29", 4},
		{"2020-02-29", "2024-03-01", 4},
	}
	for _, tc := range testCases {
		t.Run(tc.buy+"_"+tc.sell, func(t *testing.T) {
			assert.Equal(t, tc.want, OwnershipYears(MustParse(tc.buy), MustParse(tc.sell)))
		})
	}
}

func TestDateJSON(t *testing.T) {
	var v struct {
		On  Date `json:"on"`
		Opt Date `json:"opt"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"on":"2023-1-9","opt":""}`), &v))
	assert.Equal(t, New(2023, 1, 9), v.On)
	assert.True(t, v.Opt.IsZero())

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"on":"2023-01-09","opt":""}`, string(b))
}

func TestYearRange(t *testing.T) {
	r := Year(2024)
	assert.True(t, r.Contains(New(2024, 1, 1)))
	assert.True(t, r.Contains(New(2024, 12, 31)))
	assert.False(t, r.Contains(New(2025, 1, 1)))
	assert.Equal(t, "2024-01-01..2024-12-31", r.String())
}
