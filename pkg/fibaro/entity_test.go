package fibaro

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue(t *testing.T) {
	tests := []struct {
		raw  string
		want Value
		zero bool
	}{
		{raw: `"0"`, want: "0", zero: true},
		{raw: `"1"`, want: "1"},
		{raw: `"false"`, want: "false", zero: true},
		{raw: `""`, want: "", zero: true},
		{raw: `0`, want: "0", zero: true},
		{raw: `0.0`, want: "0.0", zero: true},
		{raw: `99`, want: "99"},
		{raw: `true`, want: "true"},
		{raw: `null`, want: "null", zero: true},
		{raw: `"21.5"`, want: "21.5"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var v Value
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &v))
			assert.Equal(t, tt.want, v)
			assert.Equal(t, tt.zero, v.IsZero())
		})
	}
}

func TestDeviceProperties_NullValue(t *testing.T) {
	var d Device
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"properties":{"value":null,"dead":"false"}}`), &d))

	assert.Equal(t, Value("null"), d.Properties.Value)
	assert.True(t, d.Properties.Value.IsZero())
	assert.Equal(t, Value("false"), d.Properties.Dead)
}

func TestChange_DeviceID(t *testing.T) {
	var changes []Change
	require.NoError(t, json.Unmarshal([]byte(`[{"id":12},{"id":"34"},{"id":"x"},{"value":"1"}]`), &changes))

	id, ok := changes[0].DeviceID()
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	id, ok = changes[1].DeviceID()
	assert.True(t, ok)
	assert.Equal(t, int64(34), id)

	_, ok = changes[2].DeviceID()
	assert.False(t, ok)
	_, ok = changes[3].DeviceID()
	assert.False(t, ok)
}

func TestChangeReport_Time(t *testing.T) {
	r := &ChangeReport{Timestamp: 1700000000}
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), r.Time())
}
