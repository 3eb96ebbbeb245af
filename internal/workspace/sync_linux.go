//go:build linux

package workspace

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync is enough here: file length changes are flushed with the data and
// directory durability is out of scope for these full-file rewrites.
func syncFile(file *os.File) error {
	if file == nil {
		return nil
	}
	return unix.Fdatasync(int(file.Fd()))
}
