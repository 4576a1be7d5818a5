package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"stageboot/config"
	"stageboot/logging"
)

const writeProbeName = ".stageboot_write_test"

// ensureDirectories creates every working directory and verifies it is
// writable. Existing directories are left as they are.
func ensureDirectories(paths config.Paths, logger logging.Logger) error {
	for _, dir := range paths.Dirs() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w\n"+
				"  Remediation: Ensure the parent directory exists and is writable\n"+
				"  For Docker: Check volume mount permissions", dir, err)
		}

		probe := filepath.Join(dir, writeProbeName)
		if err := os.WriteFile(probe, []byte("test"), 0644); err != nil {
			return fmt.Errorf("directory %s is not writable: %w\n"+
				"  Remediation: Check file system permissions\n"+
				"  For bare metal: Run 'chmod -R u+w %s'", dir, err, dir)
		}
		_ = os.Remove(probe)

		logger.Debugw("Directory ready", "path", dir)
	}
	logger.Infow("All working directories verified", "data_dir", paths.DataDir)
	return nil
}

// checkBinaries resolves every required executable with lookPath.
func checkBinaries(binaries []string, lookPath func(string) (string, error), logger logging.Logger) error {
	var missing []string
	for _, bin := range binaries {
		path, err := lookPath(bin)
		if err != nil {
			missing = append(missing, bin)
			continue
		}
		logger.Debugw("Required binary found", "binary", bin, "path", path)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v (set %s=true to skip this check)",
			ErrMissingBinary, missing, config.SkipBinaryCheckEnv)
	}
	return nil
}
