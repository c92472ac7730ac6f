package artwork

import (
	"fmt"
	"io/fs"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ComputeTag derives the cache-busting fingerprint for a served file from its
// path and modification time. The same unchanged file always yields the same
// tag; touching the file changes it.
func ComputeTag(path string, info fs.FileInfo) string {
	sum := xxhash.Sum64String(path + strconv.FormatInt(info.ModTime().UnixNano(), 10))
	return fmt.Sprintf("%016x", sum)
}
