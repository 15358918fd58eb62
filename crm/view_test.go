package crm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestViewWhitelist(t *testing.T) {
	rec := &Record{
		ID: "42",
		Fields: Fields{
			"allowed": "value",
			"secret":  "value",
		},
	}
	v := NewView(rec, []string{"allowed"})
	require.Equal(t, "42", v.ID())
	require.Equal(t, "value", v.String("allowed"))
	require.False(t, v.Has("secret"))
	require.Equal(t, "", v.String("secret"))
}

func TestViewNilRecord(t *testing.T) {
	v := NewView(nil, []string{"anything"})
	require.Equal(t, "", v.ID())
	require.False(t, v.Has("anything"))
}

func TestViewBoolPtr(t *testing.T) {
	rec := &Record{ID: "1", Fields: Fields{
		"on":    "true",
		"off":   "false",
		"empty": "",
	}}
	v := NewView(rec, []string{"on", "off", "empty", "absent"})

	on := v.BoolPtr("on")
	require.NotNil(t, on)
	require.True(t, *on)

	off := v.BoolPtr("off")
	require.NotNil(t, off)
	require.False(t, *off)

	// empty and absent both mean "never set"
	require.Nil(t, v.BoolPtr("empty"))
	require.Nil(t, v.BoolPtr("absent"))
}

func TestViewFloatPtr(t *testing.T) {
	rec := &Record{ID: "1", Fields: Fields{
		"zero":    "0",
		"hundred": "100",
		"junk":    "abc",
	}}
	v := NewView(rec, []string{"zero", "hundred", "junk", "absent"})

	zero := v.FloatPtr("zero")
	require.NotNil(t, zero)
	require.Equal(t, 0.0, *zero)

	hundred := v.FloatPtr("hundred")
	require.NotNil(t, hundred)
	require.Equal(t, 100.0, *hundred)

	require.Nil(t, v.FloatPtr("junk"))
	require.Nil(t, v.FloatPtr("absent"))
}

func TestViewDate(t *testing.T) {
	rec := &Record{ID: "1", Fields: Fields{
		"good": "2024-03-15",
		"bad":  "03/15/2024",
	}}
	v := NewView(rec, []string{"good", "bad"})
	require.Equal(t, "2024-03-15", v.Date("good").String())
	require.True(t, v.Date("bad").IsZero())
}

func TestFormatHelpers(t *testing.T) {
	require.Equal(t, "true", FormatBool(true))
	require.Equal(t, "3.5", FormatFloat(3.5))
	require.Equal(t, "100", FormatFloat(100))
	require.Equal(t, "-2", FormatInt(-2))
}
