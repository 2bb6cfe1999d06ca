//go:build !unix

package tailer

import "os"

// getInode is unavailable here; identity checks rely on os.SameFile alone
func getInode(os.FileInfo) uint64 {
	return 0
}
