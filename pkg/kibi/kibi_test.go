package kibi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "0 bytes", FormatBytes(0))
	require.Equal(t, "1023 bytes", FormatBytes(1023))
	require.Equal(t, "1 KB", FormatBytes(1024))
	require.Equal(t, "1 KB", FormatBytes(1536))
	require.Equal(t, "512 MB", FormatBytes(512*1024*1024))
	require.Equal(t, "1 PB", FormatBytes(1024*1024*1024*1024*1024))
	require.Equal(t, "2048 PB", FormatBytes(2048*1024*1024*1024*1024*1024))
}

func TestParseBytes(t *testing.T) {
	good := func(expected int64, s string) {
		val, err := ParseBytes(s)
		require.NoError(t, err, s)
		require.Equal(t, expected, val, s)
	}
	good(0, "0")
	good(12345, "12345")
	good(50, "50 bytes")
	good(64*1024, "64 kb")
	good(64*1024, "64K")
	good(512*1024*1024, "512MB")
	good(2*1024*1024*1024, " 2 g ")
	good(3*1024*1024*1024*1024, "3 TB")

	for _, bad := range []string{"", "MB", "12 parsecs", "-5", "1.5 GB"} {
		_, err := ParseBytes(bad)
		require.Error(t, err, bad)
	}
}
