package router

import "os"

func localMtime(info os.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / 1e9
}
