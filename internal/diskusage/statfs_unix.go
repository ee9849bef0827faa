//go:build linux || darwin || freebsd

package diskusage

import "golang.org/x/sys/unix"

func statfs(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, err
	}
	bsize := uint64(st.Bsize)
	return Usage{
		TotalBytes: uint64(st.Blocks) * bsize,
		UsedBytes:  (uint64(st.Blocks) - uint64(st.Bfree)) * bsize,
		FreeBytes:  uint64(st.Bavail) * bsize,
	}, nil
}
