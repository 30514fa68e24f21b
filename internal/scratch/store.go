package scratch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/local/tipificador/internal/apperr"
)

// idPattern matches the 32 lowercase hex digit identifiers used for jobs and
// batches. Only directories matching it are ever swept.
var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ValidID reports whether s is a well-formed job/batch identifier.
func ValidID(s string) bool { return idPattern.MatchString(s) }

// Store lays out per-job and per-batch scratch directories under Root:
//
//	<root>/<jobId>/{meta.json, pdfs/, cache/}
//	<root>/batches/<batchId>/{meta.json, input/, results/}
type Store struct {
	Root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "batches"), 0o755); err != nil {
		return nil, fmt.Errorf("create batches root: %w", err)
	}
	return &Store{Root: root}, nil
}

// JobDir returns the directory for a job id without checking existence.
func (s *Store) JobDir(id string) string { return filepath.Join(s.Root, id) }

// BatchDir returns the directory for a batch id without checking existence.
func (s *Store) BatchDir(id string) string { return filepath.Join(s.Root, "batches", id) }

// MkJob creates the job directory tree.
func (s *Store) MkJob(id string) (string, error) {
	dir := s.JobDir(id)
	for _, d := range []string{dir, filepath.Join(dir, "pdfs"), filepath.Join(dir, "cache")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("create job dir: %w", err)
		}
	}
	return dir, nil
}

// MkBatch creates the batch directory tree.
func (s *Store) MkBatch(id string) (string, error) {
	dir := s.BatchDir(id)
	for _, d := range []string{dir, filepath.Join(dir, "input"), filepath.Join(dir, "results")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("create batch dir: %w", err)
		}
	}
	return dir, nil
}

// RemoveJob deletes the job scratch recursively. Best effort.
func (s *Store) RemoveJob(id string) { _ = os.RemoveAll(s.JobDir(id)) }

// RemoveBatch deletes the batch scratch recursively. Best effort.
func (s *Store) RemoveBatch(id string) { _ = os.RemoveAll(s.BatchDir(id)) }

// WriteMeta atomically replaces dir/meta.json: write a sibling temp file,
// fsync it, then rename over the target so concurrent readers always see
// either the old or the new snapshot.
func WriteMeta(dir string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".meta-*.json")
	if err != nil {
		return fmt.Errorf("create temp meta: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp meta: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp meta: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, "meta.json")); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename meta: %w", err)
	}
	return nil
}

// ReadMeta loads dir/meta.json into v. Parse failures are retried a few times
// with a short backoff to ride out a concurrent writer; a missing file maps to
// NotFound, a persistently malformed one to MetaBusy.
func ReadMeta(dir string, v any) error {
	path := filepath.Join(dir, "meta.json")
	err := retry.Do(
		func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return retry.Unrecoverable(apperr.New(apperr.NotFound, "job no existe o expiró"))
				}
				return err
			}
			return json.Unmarshal(data, v)
		},
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == apperr.NotFound {
		return err
	}
	return apperr.Wrap(apperr.MetaBusy, "meta temporarily busy", err)
}

// Sweep removes any id-named directory whose meta records a creation time
// older than ttl. Errors are best effort and only logged.
func (s *Store) Sweep(ttl time.Duration) {
	s.sweepDir(s.Root, ttl)
	s.sweepDir(filepath.Join(s.Root, "batches"), ttl)
}

func (s *Store) sweepDir(root string, ttl time.Duration) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-ttl).Unix()
	for _, e := range entries {
		if !e.IsDir() || !idPattern.MatchString(e.Name()) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		var meta struct {
			CreatedAt int64 `json:"createdAt"`
		}
		data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
		if err != nil || json.Unmarshal(data, &meta) != nil {
			// No readable meta: fall back to directory mtime.
			info, ierr := e.Info()
			if ierr != nil || info.ModTime().Unix() > cutoff {
				continue
			}
			meta.CreatedAt = info.ModTime().Unix()
		}
		if meta.CreatedAt < cutoff {
			log.Debug().Str("dir", e.Name()).Msg("sweeping expired scratch")
			_ = os.RemoveAll(dir)
		}
	}
}
