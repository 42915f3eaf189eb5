// Package backup stores configuration snapshots per device and enforces retention.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/bueste/switchbackup/pkg/models"
)

const (
	// TimestampLayout is the sortable timestamp prefix of snapshot file names
	TimestampLayout = "2006-01-02_15-04-05"
	snapshotExt     = ".bak"
	tempPrefix      = ".tmp-"
)

// Store keeps snapshots under <root>/<alias>/<timestamp>-<alias>.bak
type Store struct {
	fs     afero.Fs
	root   string
	now    func() time.Time
	logger *zap.Logger
}

// NewStore creates a new snapshot store rooted at root
func NewStore(filesystem afero.Fs, logger *zap.Logger, root string) *Store {
	return &Store{
		fs:     filesystem,
		root:   root,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the store's time source
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Root returns the backup root directory
func (s *Store) Root() string {
	return s.root
}

// SafeAlias makes an alias usable as a single path component
func SafeAlias(alias string) string {
	var b strings.Builder
	for _, r := range alias {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	safe := b.String()
	if safe == "" || strings.HasPrefix(safe, ".") {
		safe = "_" + safe
	}
	return safe
}

// SnapshotName returns the file name for a snapshot taken at ts
func SnapshotName(alias string, ts time.Time) string {
	return ts.Format(TimestampLayout) + "-" + SafeAlias(alias) + snapshotExt
}

// parseSnapshotName returns the timestamp embedded in a snapshot file name.
// Hidden files and names that do not belong to alias are rejected.
func parseSnapshotName(alias, name string) (time.Time, bool) {
	if strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return time.Time{}, false
	}
	suffix := "-" + SafeAlias(alias) + snapshotExt
	if !strings.HasSuffix(name, suffix) || len(name) != len(TimestampLayout)+len(suffix) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, name[:len(TimestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (s *Store) dir(alias string) string {
	return filepath.Join(s.root, SafeAlias(alias))
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrStoreIO, op, err)
}

// List returns the snapshots of alias, newest first, without content
func (s *Store) List(alias string) ([]models.Snapshot, error) {
	entries, err := afero.ReadDir(s.fs, s.dir(alias))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storeErr("listing "+s.dir(alias), err)
	}

	snapshots := make([]models.Snapshot, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ts, ok := parseSnapshotName(alias, entry.Name())
		if !ok {
			continue
		}
		snapshots = append(snapshots, models.Snapshot{
			Alias:     alias,
			Name:      entry.Name(),
			Timestamp: ts,
			Size:      entry.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name > snapshots[j].Name
	})
	return snapshots, nil
}

// Latest returns the newest snapshot of alias with its content, or ErrNoBackup
func (s *Store) Latest(alias string) (*models.Snapshot, error) {
	snapshots, err := s.List(alias)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("%w for %s", models.ErrNoBackup, alias)
	}

	latest := snapshots[0]
	content, err := s.readContent(alias, latest.Name)
	if err != nil {
		return nil, err
	}
	latest.Content = content
	return &latest, nil
}

// Read returns one snapshot of alias by file name
func (s *Store) Read(alias, name string) (*models.Snapshot, error) {
	ts, ok := parseSnapshotName(alias, name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidName, name)
	}

	content, err := s.readContent(alias, name)
	if err != nil {
		return nil, err
	}
	return &models.Snapshot{
		Alias:     alias,
		Name:      name,
		Timestamp: ts,
		Size:      int64(len(content)),
		Content:   content,
	}, nil
}

func (s *Store) readContent(alias, name string) (string, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir(alias), name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s/%s", models.ErrNoBackup, alias, name)
		}
		return "", storeErr("reading "+name, err)
	}
	return string(data), nil
}

// IsDuplicate reports whether content equals any stored snapshot of alias, not only the latest
func (s *Store) IsDuplicate(alias, content string) (bool, error) {
	snapshots, err := s.List(alias)
	if err != nil {
		return false, err
	}
	for _, snap := range snapshots {
		existing, err := s.readContent(alias, snap.Name)
		if err != nil {
			return false, err
		}
		if existing == content {
			return true, nil
		}
	}
	return false, nil
}

// Save writes content as a new snapshot unless an identical one is already stored.
// It returns nil without error when the content is a duplicate.
func (s *Store) Save(alias, content string) (*models.Snapshot, error) {
	dup, err := s.IsDuplicate(alias, content)
	if err != nil {
		return nil, err
	}
	if dup {
		s.logger.Info("backup file with same configuration exists, skipping", zap.String("alias", alias))
		return nil, nil
	}

	dir := s.dir(alias)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, storeErr("creating "+dir, err)
	}

	// A new snapshot always sorts after the newest stored one, even if the clock went back.
	ts := s.now().Truncate(time.Second)
	existing, err := s.List(alias)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 && !ts.After(existing[0].Timestamp) {
		s.logger.Warn("clock is behind the latest backup, advancing timestamp",
			zap.String("alias", alias),
			zap.String("latest", existing[0].Name),
		)
		ts = existing[0].Timestamp.Add(time.Second)
	}
	name := SnapshotName(alias, ts)
	for {
		exists, err := afero.Exists(s.fs, filepath.Join(dir, name))
		if err != nil {
			return nil, storeErr("checking "+name, err)
		}
		if !exists {
			break
		}
		ts = ts.Add(time.Second)
		name = SnapshotName(alias, ts)
	}

	path := filepath.Join(dir, name)
	tmp := filepath.Join(dir, tempPrefix+name)
	if err := afero.WriteFile(s.fs, tmp, []byte(content), 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, storeErr("writing "+tmp, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, storeErr("renaming "+tmp, err)
	}

	s.logger.Info("creating backup", zap.String("alias", alias), zap.String("path", path))

	return &models.Snapshot{
		Alias:     alias,
		Name:      name,
		Timestamp: ts,
		Size:      int64(len(content)),
		Content:   content,
	}, nil
}

// Prune deletes all but the keep newest snapshots of alias and returns the removed names
func (s *Store) Prune(alias string, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidRetain, keep)
	}

	snapshots, err := s.List(alias)
	if err != nil {
		return nil, err
	}
	if len(snapshots) <= keep {
		return nil, nil
	}

	var removed []string
	for _, snap := range snapshots[keep:] {
		path := filepath.Join(s.dir(alias), snap.Name)
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, storeErr("removing "+path, err)
		}
		removed = append(removed, snap.Name)
	}

	s.logger.Info("deleted extra backup files",
		zap.String("alias", alias),
		zap.Int("kept", keep),
		zap.Strings("removed", removed),
	)
	return removed, nil
}

// Aliases returns the device directories present under the root
func (s *Store) Aliases() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storeErr("listing "+s.root, err)
	}

	var aliases []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			aliases = append(aliases, entry.Name())
		}
	}
	return aliases, nil
}
