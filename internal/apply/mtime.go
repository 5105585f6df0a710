package apply

import (
	"os"
	"time"
)

func localMtime(info os.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / 1e9
}

func fileTime(mtime float64) time.Time {
	return time.Unix(0, int64(mtime*1e9))
}
