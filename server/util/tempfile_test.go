package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTempFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.MkdirAll(root, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(root, "leftover"), []byte("x"), 0644))

	tf, err := NewTempFiles(root)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "leftover"))
	require.True(t, os.IsNotExist(err))

	a := tf.Get()
	b := tf.Get()
	require.NotEqual(t, a, b)
	require.Equal(t, root, filepath.Dir(a))

	require.NoError(t, os.WriteFile(a+".mp4", []byte("video"), 0644))
	require.NoError(t, os.WriteFile(b+".mp4", []byte("video"), 0644))
	require.Equal(t, 0, tf.cleanOld(time.Now()))
	require.Equal(t, 2, tf.cleanOld(time.Now().Add(2*time.Hour)))
}

func TestCopySlice(t *testing.T) {
	src := []int{1, 2, 3}
	dst := CopySlice(src)
	dst[0] = 9
	require.Equal(t, []int{1, 2, 3}, src)
	require.Equal(t, []int{9, 2, 3}, dst)
}
