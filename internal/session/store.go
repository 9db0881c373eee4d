package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	derrors "dirigent/internal/errors"
	"dirigent/internal/util"
)

const (
	// CurrentFileName is the file name of the active session record.
	CurrentFileName = "session-current.md"
	// archiveSubdir holds archived records, keyed session-<N>.md.
	archiveSubdir = "archive"
)

var archiveNameRe = regexp.MustCompile(`^session-(\d+)\.md$`)

// Store persists the single active session record plus a numbered archive
// of completed and failed records under a fixed directory. Saves are atomic
// with respect to readers; a reader concurrent with a writer always sees a
// consistent snapshot.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// CurrentPath returns the path of the active record.
func (s *Store) CurrentPath() string {
	return filepath.Join(s.dir, CurrentFileName)
}

// archiveDir returns the archive directory path.
func (s *Store) archiveDir() string {
	return filepath.Join(s.dir, archiveSubdir)
}

// Load reads the active record. A missing record returns (nil, nil, nil);
// the store never fabricates a default record that could hide a prior
// session. An unparseable record fails closed with CORRUPT_STATE, an
// invariant breach with FORMAT_VIOLATION. Warnings report discarded
// malformed work-log entries.
func (s *Store) Load() (*Record, []string, error) {
	path := s.CurrentPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read session record: %w", err)
	}

	rec, warnings, err := Parse(data)
	if err != nil {
		if de := derrors.AsError(err); de != nil {
			return nil, nil, de
		}
		return nil, nil, derrors.ErrCorruptState(path, err)
	}
	return rec, warnings, nil
}

// Save atomically persists the active record. The record is validated
// before any bytes hit disk, so an invalid record can never replace a valid
// one.
func (s *Store) Save(r *Record) error {
	if err := r.Validate(); err != nil {
		return derrors.ErrFormatViolation(err.Error())
	}
	if err := util.AtomicWriteFile(s.CurrentPath(), Format(r), 0o644); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// Archive moves the record to read-only numbered storage and clears the
// active slot. The assigned identifier is one greater than the highest
// existing archive number. The record's status is preserved, so a failed
// record archives as failed with its reason intact.
func (s *Store) Archive(r *Record) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, derrors.ErrFormatViolation(err.Error())
	}

	id, err := s.nextArchiveID()
	if err != nil {
		return 0, err
	}

	path := filepath.Join(s.archiveDir(), fmt.Sprintf("session-%d.md", id))
	if err := util.AtomicWriteFile(path, Format(r), 0o444); err != nil {
		return 0, fmt.Errorf("archive session record: %w", err)
	}

	if err := os.Remove(s.CurrentPath()); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("clear active session: %w", err)
	}

	return id, nil
}

// nextArchiveID scans the archive directory for the highest session number.
func (s *Store) nextArchiveID() (int, error) {
	entries, err := os.ReadDir(s.archiveDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("scan archive: %w", err)
	}

	max := 0
	for _, e := range entries {
		m := archiveNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// ArchiveInfo summarizes one archived session.
type ArchiveInfo struct {
	ID     int
	Title  string
	Status Status
	Phases int
	Reason string
}

// ListArchives returns summaries of all archived sessions in ID order.
// Unreadable archives are skipped; the archive is read-only history and a
// single bad file should not hide the rest.
func (s *Store) ListArchives() ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(s.archiveDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan archive: %w", err)
	}

	var infos []ArchiveInfo
	for _, e := range entries {
		m := archiveNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		rec, err := s.LoadArchive(id)
		if err != nil {
			continue
		}
		infos = append(infos, ArchiveInfo{
			ID:     id,
			Title:  rec.Title,
			Status: rec.Status,
			Phases: len(rec.Phases),
			Reason: rec.FailReason,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// LoadArchive reads one archived record by ID.
func (s *Store) LoadArchive(id int) (*Record, error) {
	path := filepath.Join(s.archiveDir(), fmt.Sprintf("session-%d.md", id))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive %d: %w", id, err)
	}
	rec, _, err := Parse(data)
	if err != nil {
		if de := derrors.AsError(err); de != nil {
			return nil, de
		}
		return nil, derrors.ErrCorruptState(path, err)
	}
	return rec, nil
}
