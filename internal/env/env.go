package env

import (
	"os"
	"path/filepath"
)

// WorkDirEnv overrides the default work directory.
const WorkDirEnv = "VVBUILD_WORKDIR"

// WorkDir returns the root under which every build unit gets its own
// workspace, creating it with 0700 permissions. It defaults to
// <user cache dir>/.vvbuild.
func WorkDir() (string, error) {
	dir := os.Getenv(WorkDirEnv)
	if dir == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(userCacheDir, ".vvbuild")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// UnitDir returns the workspace of one build unit. Workspaces of different
// units never overlap.
func UnitDir(workDir, runID, artifact string) string {
	return filepath.Join(workDir, runID, artifact)
}
