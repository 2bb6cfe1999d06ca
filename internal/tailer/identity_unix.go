//go:build unix

package tailer

import (
	"os"
	"syscall"
)

// getInode extracts inode from FileInfo
func getInode(fi os.FileInfo) uint64 {
	if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Ino)
	}
	return 0
}
