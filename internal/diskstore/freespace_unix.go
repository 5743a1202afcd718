//go:build !windows

package diskstore

import "golang.org/x/sys/unix"

// freeBytes reports the available (non-privileged) free space on the
// filesystem backing path, used by the free-disk-space trim in spec.md
// §4.6.
func freeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
