package sweeper

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt(t *testing.T) {
	cases := []struct {
		in    string
		want  int64
		clean bool
	}{
		{"7", 7, true},
		{"+7", 7, true},
		{"-3", -3, true},
		{" 12 ", 12, true},
		{"7.9", 7, false},
		{"-7.9", -7, false},
		{"7days", 7, false},
		{"1e3", 1000, false},
		{".5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"99999999999999999999", math.MaxInt64, true},
	}
	for _, c := range cases {
		got, clean := toInt(c.in)
		assert.Equal(t, c.want, got, c.in)
		assert.Equal(t, c.clean, clean, c.in)
	}
}

func TestEnabledValue(t *testing.T) {
	assert.True(t, enabledValue("1"))
	assert.True(t, enabledValue(" 1\n"))
	for _, v := range []string{"", "0", "true", "yes", "11"} {
		assert.False(t, enabledValue(v), v)
	}
}
