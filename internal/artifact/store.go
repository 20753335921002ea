// Package artifact implements the content-addressed blob store and
// append-only RDF-like event log used by the syslog artifact collaborator
// (spec.md §4.D).
package artifact

import (
	"context"
	"crypto/sha1" //nolint:gosec // content addressing, not a security boundary
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/discosat/satop-platform/internal/apierror"
)

// Record is the persisted metadata row for a blob. SHA1 is both the primary
// key and the physical filename under <data_root>/artifact_data.
type Record struct {
	SHA1 string
	Name string
	Size int64
}

// Store is the content-addressed blob store plus event log.
type Store struct {
	dataDir string
	db      *sql.DB
	log     *logrus.Entry
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS artifactstore (
	sha1 TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS event_triples (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	subject   TEXT NOT NULL,
	predicate TEXT NOT NULL,
	object    TEXT NOT NULL
);
`

// Open opens (creating if absent) the artifact database and blob directory
// rooted at dataRoot, and reconciles any blob/row mismatch left by a crash
// between the two writes (spec.md §9 Open Question: blob-then-row).
func Open(dataRoot string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	blobDir := filepath.Join(dataRoot, "artifact_data")
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, apierror.Internal(err, "creating artifact_data directory")
	}

	dbDir := filepath.Join(dataRoot, "database")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, apierror.Internal(err, "creating database directory")
	}

	db, err := sql.Open("sqlite3", filepath.Join(dbDir, "artifacts.db")+"?_foreign_keys=on")
	if err != nil {
		return nil, apierror.Internal(err, "opening artifact store")
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, apierror.Internal(err, "initializing artifact schema")
	}

	s := &Store{
		dataDir: dataRoot,
		db:      db,
		log:     log.WithField("component", "artifact"),
	}
	if err := s.reconcile(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) blobPath(sha1Hex string) string {
	return filepath.Join(s.dataDir, "artifact_data", sha1Hex)
}

// reconcile implements the hardened recovery strategy from the Open
// Question: a blob file with no matching row is adopted (its bytes
// survived); a row with no file is logged for operator attention since its
// bytes cannot be reconstructed.
func (s *Store) reconcile(ctx context.Context) error {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "artifact_data"))
	if err != nil {
		return apierror.Internal(err, "listing artifact_data")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT sha1 FROM artifactstore`)
	if err != nil {
		return apierror.Internal(err, "listing artifact rows")
	}
	known := make(map[string]bool)
	for rows.Next() {
		var sha string
		if err := rows.Scan(&sha); err != nil {
			rows.Close()
			return apierror.Internal(err, "scanning artifact row")
		}
		known[sha] = true
	}
	rows.Close()

	onDisk := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		onDisk[e.Name()] = true
		if known[e.Name()] {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO artifactstore (sha1, name, size) VALUES (?, ?, ?)`,
			e.Name(), e.Name(), fi.Size()); err != nil {
			return apierror.Internal(err, "adopting orphan blob %s", e.Name())
		}
		s.log.WithField("sha1", e.Name()).Warn("adopted orphan blob with no matching artifact row")
	}

	for sha := range known {
		if !onDisk[sha] {
			s.log.WithField("sha1", sha).Error("artifact row has no matching blob file; bytes are lost")
		}
	}
	return nil
}

// Put computes the SHA-1 of r's content, writes it to
// <data_root>/artifact_data/<sha1> if not already present, and inserts the
// (sha1, name, size) record. A duplicate SHA-1 returns the existing record
// and alreadyExisted=true.
func (s *Store) Put(ctx context.Context, r io.Reader, name string) (rec Record, alreadyExisted bool, err error) {
	tmp, err := os.CreateTemp(filepath.Join(s.dataDir, "artifact_data"), "upload-*")
	if err != nil {
		return Record{}, false, apierror.Internal(err, "creating temp upload file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha1.New() //nolint:gosec
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return Record{}, false, apierror.Internal(err, "writing upload")
	}
	sum := hex.EncodeToString(h.Sum(nil))

	if existing, getErr := s.Get(ctx, sum); getErr == nil {
		return existing, true, nil
	}

	if _, seekErr := tmp.Seek(0, io.SeekStart); seekErr != nil {
		return Record{}, false, apierror.Internal(seekErr, "rewinding upload")
	}
	data, err := io.ReadAll(tmp)
	if err != nil {
		return Record{}, false, apierror.Internal(err, "reading upload")
	}

	// Blob first, row second: a crash between the two leaves a recoverable
	// orphan file rather than a row pointing at nothing.
	if err := renameio.WriteFile(s.blobPath(sum), data, 0o644); err != nil {
		return Record{}, false, apierror.Internal(err, "writing blob")
	}

	rec = Record{SHA1: sum, Name: name, Size: size}
	_, err = s.db.ExecContext(ctx, `INSERT INTO artifactstore (sha1, name, size) VALUES (?, ?, ?)`, rec.SHA1, rec.Name, rec.Size)
	if err != nil {
		if existing, getErr := s.Get(ctx, sum); getErr == nil {
			return existing, true, nil
		}
		return Record{}, false, apierror.Internal(err, "inserting artifact record")
	}

	return rec, false, nil
}

// Get returns the metadata record for sha1Hex, or NotFound. Use Read for
// the blob bytes.
func (s *Store) Get(ctx context.Context, sha1Hex string) (Record, error) {
	var rec Record
	rec.SHA1 = sha1Hex
	row := s.db.QueryRowContext(ctx, `SELECT name, size FROM artifactstore WHERE sha1 = ?`, sha1Hex)
	if err := row.Scan(&rec.Name, &rec.Size); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, apierror.NotFound("artifact %s not found", sha1Hex)
		}
		return Record{}, apierror.Internal(err, "get artifact")
	}
	return rec, nil
}

// Read returns the blob bytes for sha1Hex, or NotFound.
func (s *Store) Read(ctx context.Context, sha1Hex string) (Record, []byte, error) {
	rec, err := s.Get(ctx, sha1Hex)
	if err != nil {
		return Record{}, nil, err
	}
	data, err := os.ReadFile(s.blobPath(sha1Hex))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil, apierror.NotFound("artifact %s blob missing on disk", sha1Hex)
		}
		return Record{}, nil, apierror.Internal(err, "reading blob")
	}
	return rec, data, nil
}
