package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// MaxBackups is the number of user config backups kept.
const MaxBackups = 5

// Backups are named config-<stamp>.yaml in the backups directory. The stamp
// has a fixed width, so name order is age order.
const (
	backupPrefix = "config-"
	backupExt    = ".yaml"
	backupStamp  = "20060102-150405.000000000"
)

// BackupDir returns the directory holding user config backups.
func BackupDir() string {
	return filepath.Join(GetUserConfigDir(), "backups")
}

// BackupUserConfig copies the user config into BackupDir and returns the
// copy's path, or "" when there is no user config. Backups beyond
// MaxBackups are pruned; a failed prune is logged, the backup still counts.
func BackupUserConfig() (string, error) {
	data, err := os.ReadFile(GetUserConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read user config: %w", err)
	}

	path, err := writeBackup(data)
	if err != nil {
		return "", err
	}
	if err := pruneBackups(MaxBackups); err != nil {
		slog.Warn("config_backup_prune_failed",
			slog.String("dir", BackupDir()),
			slog.String("error", err.Error()))
	}
	return path, nil
}

func writeBackup(data []byte) (string, error) {
	dir := BackupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	// Two backups in the same instant take the next free stamp.
	now := time.Now().UTC()
	var (
		path string
		f    *os.File
		err  error
	)
	for range 100 {
		path = filepath.Join(dir, backupPrefix+now.Format(backupStamp)+backupExt)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if !errors.Is(err, fs.ErrExist) {
			break
		}
		now = now.Add(time.Nanosecond)
	}
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	_, werr := f.Write(data)
	if err := errors.Join(werr, f.Close()); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

// ListUserConfigBackups returns the backup paths, newest first.
func ListUserConfigBackups() ([]string, error) {
	entries, err := os.ReadDir(BackupDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupExt) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	slices.Reverse(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(BackupDir(), n)
	}
	return paths, nil
}

// pruneBackups removes all but the newest keep backups.
func pruneBackups(keep int) error {
	backups, err := ListUserConfigBackups()
	if err != nil || len(backups) <= keep {
		return err
	}
	var errs []error
	for _, b := range backups[keep:] {
		if err := os.Remove(b); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RestoreUserConfig replaces the user config with the backup at path. The
// backup must parse as a configuration. The current config, if any, is
// backed up first, so a restore can itself be undone.
func RestoreUserConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	var parsed Config
	if err := readYAML(path, &parsed); err != nil {
		return err
	}

	if _, err := BackupUserConfig(); err != nil {
		return fmt.Errorf("back up current config: %w", err)
	}

	target := GetUserConfigPath()
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
