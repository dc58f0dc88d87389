package util

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	projectRootDir     string
	projectRootDirOnce sync.Once
)

// GetProjectRootDir walks up from the working directory until it finds go.mod.
// Falls back to the working directory when no go.mod is found (e.g. a deployed binary).
func GetProjectRootDir() string {
	projectRootDirOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			projectRootDir = "."
			return
		}

		dir := wd
		for {
			if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
				projectRootDir = dir
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				projectRootDir = wd
				return
			}
			dir = parent
		}
	})

	return projectRootDir
}
