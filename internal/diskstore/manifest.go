package diskstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS manifest (
  key TEXT PRIMARY KEY,
  filename TEXT,
  size INTEGER,
  inline_data BLOB,
  modification_time INTEGER,
  last_access_time INTEGER,
  extended_data BLOB
);
CREATE INDEX IF NOT EXISTS last_access_time_idx ON manifest(last_access_time);
`

// Entry is a disk-tier record, assembled from a manifest row and (for
// external placement) the blob's file contents.
type Entry struct {
	Key              string
	Bytes            []byte
	Filename         string
	Size             int64
	ModificationTime time.Time
	LastAccessTime   time.Time
	Extended         []byte
}

// sizeInfo is one row of list_size_info_oldest_first: enough to delete a
// manifest row and its backing file without re-reading the blob.
type sizeInfo struct {
	Key      string
	Filename string
	Size     int64
}

// manifest wraps the SQLite-backed entry table. It is not safe for
// concurrent use by itself — the disk tier (Tier) serializes every call
// through its own lock, per spec.md §4.4.
type manifest struct {
	db    *sql.DB
	stmts map[string]*sql.Stmt
	log   zerolog.Logger
	debug bool
}

func openManifest(path string, log zerolog.Logger, debug bool) (*manifest, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open manifest database: %w", err)
	}
	// One writer at a time: the disk tier already serializes access above
	// this layer, and modernc.org/sqlite's single native connection per
	// *sql.DB handle is happiest under one open connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = wal;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set wal journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = normal;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create manifest schema: %w", err)
	}

	return &manifest{db: db, stmts: make(map[string]*sql.Stmt), log: log, debug: debug}, nil
}

// prepare returns a cached *sql.Stmt for query, preparing and caching it on
// first use. Queries whose shape varies with argument count (the IN (?,…)
// multi-key forms) must not go through this cache — see prepareUncached.
func (m *manifest) prepare(query string) (*sql.Stmt, error) {
	if stmt, ok := m.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := m.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	m.stmts[query] = stmt
	return stmt, nil
}

func (m *manifest) logDebug(action string, err error) {
	if m.debug {
		m.log.Debug().Err(err).Str("op", action).Msg("manifest operation failed")
	}
}

func (m *manifest) close() error {
	for _, stmt := range m.stmts {
		_ = stmt.Close()
	}
	m.stmts = nil
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// save performs INSERT OR REPLACE, setting modification_time and
// last_access_time to now. inline_data is nil whenever filename is set,
// per spec.md §4.4.
func (m *manifest) save(key string, data []byte, filename string, extended []byte) bool {
	stmt, err := m.prepare(`
		INSERT OR REPLACE INTO manifest
			(key, filename, size, inline_data, modification_time, last_access_time, extended_data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		m.logDebug("save", err)
		return false
	}

	now := time.Now().Unix()
	var (
		fn   sql.NullString
		blob []byte
	)
	if filename != "" {
		fn = sql.NullString{String: filename, Valid: true}
	} else {
		blob = data
	}

	if _, err := stmt.Exec(key, fn, int64(len(data)), blob, now, now, extended); err != nil {
		m.logDebug("save", err)
		return false
	}
	return true
}

func (m *manifest) touch(key string) bool {
	stmt, err := m.prepare(`UPDATE manifest SET last_access_time = ? WHERE key = ?`)
	if err != nil {
		m.logDebug("touch", err)
		return false
	}
	if _, err := stmt.Exec(time.Now().Unix(), key); err != nil {
		m.logDebug("touch", err)
		return false
	}
	return true
}

func (m *manifest) touchMany(keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	query := fmt.Sprintf(`UPDATE manifest SET last_access_time = ? WHERE key IN (%s)`, placeholders(len(keys)))
	stmt, err := m.db.Prepare(query)
	if err != nil {
		m.logDebug("touch_many", err)
		return false
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, 0, len(keys)+1)
	args = append(args, time.Now().Unix())
	for _, k := range keys {
		args = append(args, k)
	}
	if _, err := stmt.Exec(args...); err != nil {
		m.logDebug("touch_many", err)
		return false
	}
	return true
}

func (m *manifest) delete(key string) bool {
	stmt, err := m.prepare(`DELETE FROM manifest WHERE key = ?`)
	if err != nil {
		m.logDebug("delete", err)
		return false
	}
	if _, err := stmt.Exec(key); err != nil {
		m.logDebug("delete", err)
		return false
	}
	return true
}

func (m *manifest) deleteMany(keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	query := fmt.Sprintf(`DELETE FROM manifest WHERE key IN (%s)`, placeholders(len(keys)))
	stmt, err := m.db.Prepare(query)
	if err != nil {
		m.logDebug("delete_many", err)
		return false
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := stmt.Exec(args...); err != nil {
		m.logDebug("delete_many", err)
		return false
	}
	return true
}

func (m *manifest) deleteLargerThan(size int64) bool {
	stmt, err := m.prepare(`DELETE FROM manifest WHERE size > ?`)
	if err != nil {
		m.logDebug("delete_larger_than", err)
		return false
	}
	if _, err := stmt.Exec(size); err != nil {
		m.logDebug("delete_larger_than", err)
		return false
	}
	return true
}

func (m *manifest) deleteOlderThan(cutoff int64) bool {
	stmt, err := m.prepare(`DELETE FROM manifest WHERE last_access_time < ?`)
	if err != nil {
		m.logDebug("delete_older_than", err)
		return false
	}
	if _, err := stmt.Exec(cutoff); err != nil {
		m.logDebug("delete_older_than", err)
		return false
	}
	return true
}

func (m *manifest) get(key string, excludeInline bool) (*Entry, bool) {
	cols := "key, filename, size, inline_data, modification_time, last_access_time, extended_data"
	if excludeInline {
		cols = "key, filename, size, NULL, modification_time, last_access_time, extended_data"
	}
	stmt, err := m.prepare(fmt.Sprintf(`SELECT %s FROM manifest WHERE key = ?`, cols))
	if err != nil {
		m.logDebug("get", err)
		return nil, false
	}
	row := stmt.QueryRow(key)
	entry, err := scanEntry(row)
	if err != nil {
		if err != sql.ErrNoRows {
			m.logDebug("get", err)
		}
		return nil, false
	}
	return entry, true
}

func (m *manifest) getMany(keys []string, excludeInline bool) []*Entry {
	if len(keys) == 0 {
		return nil
	}
	cols := "key, filename, size, inline_data, modification_time, last_access_time, extended_data"
	if excludeInline {
		cols = "key, filename, size, NULL, modification_time, last_access_time, extended_data"
	}
	query := fmt.Sprintf(`SELECT %s FROM manifest WHERE key IN (%s)`, cols, placeholders(len(keys)))
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := m.db.Query(query, args...)
	if err != nil {
		m.logDebug("get_many", err)
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			m.logDebug("get_many", err)
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (m *manifest) getValue(key string) ([]byte, bool) {
	stmt, err := m.prepare(`SELECT inline_data FROM manifest WHERE key = ?`)
	if err != nil {
		m.logDebug("get_value", err)
		return nil, false
	}
	var data []byte
	if err := stmt.QueryRow(key).Scan(&data); err != nil {
		if err != sql.ErrNoRows {
			m.logDebug("get_value", err)
		}
		return nil, false
	}
	return data, true
}

func (m *manifest) getFilename(key string) (string, bool) {
	stmt, err := m.prepare(`SELECT filename FROM manifest WHERE key = ?`)
	if err != nil {
		m.logDebug("get_filename", err)
		return "", false
	}
	var fn sql.NullString
	if err := stmt.QueryRow(key).Scan(&fn); err != nil {
		if err != sql.ErrNoRows {
			m.logDebug("get_filename", err)
		}
		return "", false
	}
	return fn.String, fn.Valid
}

func (m *manifest) getFilenames(keys []string) map[string]string {
	if len(keys) == 0 {
		return nil
	}
	query := fmt.Sprintf(`SELECT key, filename FROM manifest WHERE key IN (%s)`, placeholders(len(keys)))
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := m.db.Query(query, args...)
	if err != nil {
		m.logDebug("get_filenames", err)
		return nil
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var (
			key string
			fn  sql.NullString
		)
		if err := rows.Scan(&key, &fn); err != nil {
			m.logDebug("get_filenames", err)
			continue
		}
		if fn.Valid {
			out[key] = fn.String
		}
	}
	return out
}

// listSizeInfoOldestFirst returns up to limit eviction candidates ordered
// by last_access_time ascending, the same query shape the disk tier's
// trim-to-cost and trim-to-count loops consume in batches of 16.
func (m *manifest) listSizeInfoOldestFirst(limit int) []sizeInfo {
	stmt, err := m.prepare(`SELECT key, filename, size FROM manifest ORDER BY last_access_time ASC LIMIT ?`)
	if err != nil {
		m.logDebug("list_size_info_oldest_first", err)
		return nil
	}
	rows, err := stmt.Query(limit)
	if err != nil {
		m.logDebug("list_size_info_oldest_first", err)
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []sizeInfo
	for rows.Next() {
		var (
			info sizeInfo
			fn   sql.NullString
		)
		if err := rows.Scan(&info.Key, &fn, &info.Size); err != nil {
			m.logDebug("list_size_info_oldest_first", err)
			continue
		}
		info.Filename = fn.String
		out = append(out, info)
	}
	return out
}

// listOlderThan returns eviction candidates with last_access_time before
// cutoff, used by trim-to-age to know which files to delete before the
// bulk row delete.
func (m *manifest) listOlderThan(cutoff int64) []sizeInfo {
	stmt, err := m.prepare(`SELECT key, filename, size FROM manifest WHERE last_access_time < ?`)
	if err != nil {
		m.logDebug("list_older_than", err)
		return nil
	}
	rows, err := stmt.Query(cutoff)
	if err != nil {
		m.logDebug("list_older_than", err)
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []sizeInfo
	for rows.Next() {
		var (
			info sizeInfo
			fn   sql.NullString
		)
		if err := rows.Scan(&info.Key, &fn, &info.Size); err != nil {
			m.logDebug("list_older_than", err)
			continue
		}
		info.Filename = fn.String
		out = append(out, info)
	}
	return out
}

// listAll returns every row's size info, used by trim-to-age when
// age_limit ≤ 0 (delete everything).
func (m *manifest) listAll() []sizeInfo {
	rows, err := m.db.Query(`SELECT key, filename, size FROM manifest`)
	if err != nil {
		m.logDebug("list_all", err)
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []sizeInfo
	for rows.Next() {
		var (
			info sizeInfo
			fn   sql.NullString
		)
		if err := rows.Scan(&info.Key, &fn, &info.Size); err != nil {
			m.logDebug("list_all", err)
			continue
		}
		info.Filename = fn.String
		out = append(out, info)
	}
	return out
}

func (m *manifest) totalCount() int64 {
	stmt, err := m.prepare(`SELECT COUNT(*) FROM manifest`)
	if err != nil {
		m.logDebug("total_count", err)
		return 0
	}
	var n int64
	if err := stmt.QueryRow().Scan(&n); err != nil {
		m.logDebug("total_count", err)
		return 0
	}
	return n
}

func (m *manifest) totalSize() int64 {
	stmt, err := m.prepare(`SELECT COALESCE(SUM(size), 0) FROM manifest`)
	if err != nil {
		m.logDebug("total_size", err)
		return 0
	}
	var n int64
	if err := stmt.QueryRow().Scan(&n); err != nil {
		m.logDebug("total_size", err)
		return 0
	}
	return n
}

// checkpoint flushes the write-ahead log into the main database file,
// called after bulk deletions per spec.md §4.4.
func (m *manifest) checkpoint() bool {
	if _, err := m.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		m.logDebug("checkpoint", err)
		return false
	}
	return true
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which expose
// Scan with the same signature.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		key              string
		fn               sql.NullString
		size             int64
		inline           []byte
		modTime, accTime int64
		extended         []byte
	)
	if err := row.Scan(&key, &fn, &size, &inline, &modTime, &accTime, &extended); err != nil {
		return nil, err
	}
	return &Entry{
		Key:              key,
		Bytes:            inline,
		Filename:         fn.String,
		Size:             size,
		ModificationTime: time.Unix(modTime, 0),
		LastAccessTime:   time.Unix(accTime, 0),
		Extended:         extended,
	}, nil
}

func placeholders(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('?')
	}
	return b.String()
}
