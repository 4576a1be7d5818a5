package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"stageboot/config"
	"stageboot/storage"
)

const banner = "========================================"

// writeFailure prints the failing phase and cause in the FATAL banner
// format, with remediation hints when the cause is recognized.
func writeFailure(w io.Writer, f *BootstrapFailure, statePath string) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "\n%s\n", banner)
	fmt.Fprintf(w, "FATAL: Bootstrap failed at %s\n", f.Phase)
	fmt.Fprintf(w, "%s\n", banner)
	fmt.Fprintf(w, "phase: %s\n", f.Phase)
	fmt.Fprintf(w, "cause: %v\n", f.Cause)

	var migErr *storage.MigrationError
	if errors.As(f.Cause, &migErr) {
		fmt.Fprintf(w, "migration: %s (%s)\n", migErr.Name, migErr.Stage)
		fmt.Fprintf(w, "  Migrations applied before it stay recorded; rerun to resume.\n")
	}
	var cfgErr *config.ConfigError
	if errors.As(f.Cause, &cfgErr) && cfgErr.Key != "" {
		fmt.Fprintf(w, "setting: %s\n", cfgErr.Key)
	}
	if statePath != "" && strings.Contains(f.Cause.Error(), statePath) {
		if hint := ClassifyStoreError(f.Cause, statePath); hint != "" {
			fmt.Fprintf(w, "%s\n", hint)
		}
	}
	fmt.Fprintf(w, "%s\n\n", banner)
}

// ClassifyStoreError returns remediation text for a state store failure,
// or "" when err is nil or not recognized.
func ClassifyStoreError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	msg := strings.ToLower(err.Error())
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msg, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}

	switch {
	case has("permission denied", "access denied"):
		return fmt.Sprintf("Permission denied accessing state store at %s.\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - Check directory permissions: ls -la %s\n"+
			"  - For Docker: Ensure volume is mounted with proper user permissions",
			absPath, absPath, parentDir)

	case has("database is locked", "SQLITE_BUSY"):
		return fmt.Sprintf("State store at %s is locked by another process.\n"+
			"  Possible causes:\n"+
			"  - Another instance is running against the same data_dir\n"+
			"  - A crashed process left a stale lock\n"+
			"  Remediation:\n"+
			"  - Check for lock files: ls -la %s*", absPath, absPath)

	case has("disk full", "no space", "SQLITE_FULL"):
		return fmt.Sprintf("Disk full - cannot write to state store at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s", absPath, parentDir)

	case has("corrupt", "malformed", "SQLITE_CORRUPT"):
		return fmt.Sprintf("State store at %s appears to be corrupted.\n"+
			"  CRITICAL: Backup any existing data before proceeding!\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - Restore from backup, or delete the file to rerun every migration",
			absPath, absPath)

	case has("read-only"):
		return fmt.Sprintf("State store location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Move the state file via state_path or STAGEBOOT_STATE_PATH", absPath)
	}
	return ""
}
