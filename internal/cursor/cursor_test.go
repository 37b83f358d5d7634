package cursor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aidEpochTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEncodeAid_Epoch(t *testing.T) {
	assert.Equal(t, "0000000000", EncodeAid(aidEpochTime))
	assert.Equal(t, Min(SchemeAid), EncodeAid(aidEpochTime))
}

func TestEncodeAid_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"one millisecond", aidEpochTime.Add(time.Millisecond), "0000000100"},
		{"thirty-five milliseconds", aidEpochTime.Add(35 * time.Millisecond), "0000000z00"},
		{"thirty-six milliseconds", aidEpochTime.Add(36 * time.Millisecond), "0000001000"},
		{"2023 new year", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), "99g67eo000"},
		{"non-UTC location", time.Date(2023, 1, 1, 9, 0, 0, 0, time.FixedZone("JST", 9*3600)), "99g67eo000"},
		{"before epoch clamps", aidEpochTime.Add(-time.Hour), "0000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeAid(tt.at))
		})
	}
}

func TestEncodeAid_Length(t *testing.T) {
	instants := []time.Time{
		aidEpochTime,
		aidEpochTime.Add(time.Millisecond),
		time.Date(2016, 4, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 23, 59, 59, 999e6, time.UTC),
		time.Date(2089, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	for _, at := range instants {
		assert.Len(t, EncodeAid(at), 10, "instant %s", at)
	}
}

func TestEncodeAid_Ordering(t *testing.T) {
	instants := []time.Time{
		aidEpochTime,
		aidEpochTime.Add(time.Millisecond),
		aidEpochTime.Add(35 * time.Millisecond),
		aidEpochTime.Add(36 * time.Millisecond),
		aidEpochTime.Add(time.Second),
		time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 1, 0, 0, 0, 1e6, time.UTC),
		time.Date(2050, 6, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2089, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	for i := 1; i < len(instants); i++ {
		prev, next := EncodeAid(instants[i-1]), EncodeAid(instants[i])
		assert.Less(t, prev, next, "%s should sort before %s", instants[i-1], instants[i])
	}
}

func TestEncode_Schemes(t *testing.T) {
	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	aid, err := Encode(SchemeAid, at)
	require.NoError(t, err)
	assert.Equal(t, "99g67eo000", aid)

	aidx, err := Encode(SchemeAidx, at)
	require.NoError(t, err)
	assert.Equal(t, "99g67eo000000000", aidx)
	assert.Len(t, aidx, Width(SchemeAidx))

	u, err := Encode(SchemeULID, at)
	require.NoError(t, err)
	assert.Equal(t, "01GNNA1J00"+strings.Repeat("0", 16), u)
	assert.Len(t, u, Width(SchemeULID))
}

func TestEncode_OrderingAllSchemes(t *testing.T) {
	earlier := time.Date(2022, 12, 31, 23, 59, 59, 999e6, time.UTC)
	later := earlier.Add(time.Millisecond)

	for _, scheme := range []Scheme{SchemeAid, SchemeAidx, SchemeULID} {
		t.Run(string(scheme), func(t *testing.T) {
			a, err := Encode(scheme, earlier)
			require.NoError(t, err)
			b, err := Encode(scheme, later)
			require.NoError(t, err)
			assert.Less(t, a, b)
			assert.Less(t, Min(scheme), a)
		})
	}
}

func TestEncode_OutOfRange(t *testing.T) {
	tooLate := time.UnixMilli(AidEpoch + aidMaxElapsed + 1)

	_, err := Encode(SchemeAid, tooLate)
	assert.Error(t, err)

	_, err = Encode(SchemeAidx, tooLate)
	assert.Error(t, err)

	last, err := Encode(SchemeAid, time.UnixMilli(AidEpoch+aidMaxElapsed))
	require.NoError(t, err)
	assert.Equal(t, "zzzzzzzz00", last)

	_, err = Encode("snowflake", aidEpochTime)
	assert.Error(t, err)
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		input   string
		want    Scheme
		wantErr bool
	}{
		{"", SchemeAid, false},
		{"aid", SchemeAid, false},
		{" AIDX ", SchemeAidx, false},
		{"ulid", SchemeULID, false},
		{"meid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScheme(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMin(t *testing.T) {
	assert.Equal(t, "0000000000", Min(SchemeAid))
	assert.Equal(t, "0000000000000000", Min(SchemeAidx))
	assert.Equal(t, strings.Repeat("0", 26), Min(SchemeULID))
	assert.Equal(t, 10, Width(""))
}
