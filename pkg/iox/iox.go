package iox

import (
	"errors"
	"io"
	"os"
)

// ErrTooLarge is returned when a stream is longer than the limit given to WriteStreamToFile
var ErrTooLarge = errors.New("Stream exceeds size limit")

// WriteStreamToFile copies src into dstFilename, through a temporary file which is renamed into
// place once the copy is complete, so that dstFilename is never left half written.
// If maxBytes is greater than zero, and src is longer than that, then ErrTooLarge is returned.
// Returns the number of bytes written.
func WriteStreamToFile(dstFilename string, src io.Reader, maxBytes int64) (int64, error) {
	tempFilename := dstFilename + ".tmp"
	dstFile, err := os.Create(tempFilename)
	if err != nil {
		return 0, err
	}
	fail := func(err error) (int64, error) {
		dstFile.Close()
		os.Remove(tempFilename)
		return 0, err
	}
	if maxBytes > 0 {
		src = io.LimitReader(src, maxBytes+1)
	}
	n, err := io.Copy(dstFile, src)
	if err != nil {
		return fail(err)
	}
	if maxBytes > 0 && n > maxBytes {
		return fail(ErrTooLarge)
	}
	if err := dstFile.Close(); err != nil {
		os.Remove(tempFilename)
		return 0, err
	}
	return n, os.Rename(tempFilename, dstFilename)
}
