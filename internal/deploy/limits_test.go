package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoryLimit(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"512m", 512 * 1024 * 1024},
		{"1g", 1024 * 1024 * 1024},
		{"256M", 256 * 1024 * 1024},
		{"", 0},
	}
	for _, c := range cases {
		got, err := ParseMemoryLimit(c.in)
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}

	_, err := ParseMemoryLimit("lots")
	assert.Error(t, err)
}

func TestParseCPULimit(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0.5", 500_000_000},
		{"2", 2_000_000_000},
		{"0.25", 250_000_000},
		{"", 0},
	}
	for _, c := range cases {
		got, err := ParseCPULimit(c.in)
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}

	for _, bad := range []string{"half", "-1"} {
		_, err := ParseCPULimit(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
