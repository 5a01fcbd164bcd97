// Package reliability keeps off-site copies of the databases.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrBackupDisabled is returned when no bucket is configured
var ErrBackupDisabled = errors.New("backup disabled: no bucket configured")

// ArchivePrefix starts every backup object key
const ArchivePrefix = "folio-backup-"

const archiveTimeLayout = "2006-01-02-150405"

// Source is a database that can write a consistent copy of itself
type Source interface {
	Name() string
	VacuumInto(ctx context.Context, dest string) error
}

// Uploader stores an archive under a key
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, metadata map[string]string) error
}

// BackupMetadata is written into every archive as backup-metadata.json
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database file inside the archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupService copies the databases with VACUUM INTO, packs them into a
// tar.gz and uploads it
type BackupService struct {
	sources  []Source
	uploader Uploader
	tempDir  string
	now      func() time.Time
	log      zerolog.Logger
}

// NewBackupService creates a backup service. A nil uploader disables it.
func NewBackupService(uploader Uploader, tempDir string, log zerolog.Logger, sources ...Source) *BackupService {
	return &BackupService{
		sources:  sources,
		uploader: uploader,
		tempDir:  tempDir,
		now:      time.Now,
		log:      log.With().Str("service", "backup").Logger(),
	}
}

// Enabled reports whether uploads will happen
func (s *BackupService) Enabled() bool {
	return s.uploader != nil
}

// CreateAndUpload creates a backup archive and uploads it
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	if !s.Enabled() {
		return ErrBackupDisabled
	}

	start := s.now()
	staging, err := os.MkdirTemp(s.tempDir, "folio-backup-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	archiveName, err := s.CreateArchive(ctx, staging)
	if err != nil {
		return err
	}

	archivePath := filepath.Join(staging, archiveName)
	checksum, err := fileChecksum(archivePath)
	if err != nil {
		return fmt.Errorf("failed to checksum archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	if err := s.uploader.Upload(ctx, archiveName, f, map[string]string{"sha256": checksum}); err != nil {
		return err
	}

	s.log.Info().
		Str("archive", archiveName).
		Dur("duration", time.Since(start)).
		Msg("Backup uploaded")
	return nil
}

// CreateArchive writes folio-backup-<timestamp>.tar.gz into dir and returns its name
func (s *BackupService) CreateArchive(ctx context.Context, dir string) (string, error) {
	ts := s.now().UTC()
	metadata := BackupMetadata{Timestamp: ts, Databases: make([]DatabaseMetadata, 0, len(s.sources))}

	files := make([]string, 0, len(s.sources)+1)
	for _, src := range s.sources {
		filename := src.Name() + ".db"
		path := filepath.Join(dir, filename)

		if err := src.VacuumInto(ctx, path); err != nil {
			return "", fmt.Errorf("failed to copy %s: %w", src.Name(), err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s copy: %w", src.Name(), err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s: %w", src.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      src.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	metaBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "backup-metadata.json"), metaBytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, "backup-metadata.json")

	name := ArchiveName(ts)
	if err := writeArchive(filepath.Join(dir, name), dir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	return name, nil
}

// ArchiveName returns the object key for a backup taken at t
func ArchiveName(t time.Time) string {
	return ArchivePrefix + t.UTC().Format(archiveTimeLayout) + ".tar.gz"
}

// ParseArchiveName recovers the timestamp from an archive key
func ParseArchiveName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, ArchivePrefix) || !strings.HasSuffix(name, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, ArchivePrefix), ".tar.gz")
	t, err := time.Parse(archiveTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func writeArchive(archivePath, sourceDir string, names []string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, name := range names {
		if err := addFile(tw, filepath.Join(sourceDir, name), name); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
