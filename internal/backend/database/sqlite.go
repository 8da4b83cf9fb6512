package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, fmt.Errorf("sql open failed for %s: %w", connectionString, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers; every operation still checks it out only for its own duration.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout failed for %s: %w", connectionString, err)
	}

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			processed_at TEXT NOT NULL,
			width INTEGER,
			height INTEGER,
			format TEXT,
			size INTEGER,
			caption TEXT,
			status TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS image_files (
			image_id INTEGER NOT NULL REFERENCES images(id),
			kind TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (image_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS stats (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			total INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			total_time REAL NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO stats (id, total, failed, total_time) VALUES (1, 0, 0, 0)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, err
		}
	}

	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func isRetryableSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "sqlite_busy")
}

// withTx runs fn inside a transaction, retrying the whole transaction on
// transient lock errors.
func (s *SQLiteDatabase) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	backoff := 50 * time.Millisecond
	for i := 0; i < 4; i++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryableSQLiteError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (s *SQLiteDatabase) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after a successful commit
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) CreateProcessingImage(ctx context.Context, image *Image, files []*ImageFile) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO images (filename, processed_at, width, height, format, size, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			image.Filename, image.ProcessedAt.UTC().Format(timeLayout), image.Width, image.Height, image.Format, image.SizeBytes, string(StatusProcessing))
		if err != nil {
			return fmt.Errorf("failed to insert image: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, f := range files {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO image_files (image_id, kind, content_type, data) VALUES (?, ?, ?, ?)`,
				id, string(f.Kind), f.ContentType, f.Data); err != nil {
				return fmt.Errorf("failed to insert %s file: %w", f.Kind, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE stats SET total = total + 1 WHERE id = 1`)
		return err
	})
	if err != nil {
		return 0, err
	}
	image.ID = id
	image.Status = StatusProcessing
	return id, nil
}

func (s *SQLiteDatabase) CreateFailedImage(ctx context.Context, filename string, processedAt time.Time, reason string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO images (filename, processed_at, status, error) VALUES (?, ?, ?, ?)`,
			filename, processedAt.UTC().Format(timeLayout), string(StatusFailed), reason)
		if err != nil {
			return fmt.Errorf("failed to insert failed image: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE stats SET total = total + 1, failed = failed + 1 WHERE id = 1`)
		return err
	})
	return id, err
}

func (s *SQLiteDatabase) CompleteImage(ctx context.Context, id int64, caption string, elapsed time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE images SET caption = ?, status = ?, error = NULL WHERE id = ? AND status = ?`,
			caption, string(StatusSuccess), id, string(StatusProcessing))
		if err != nil {
			return err
		}
		if err := requireOneRow(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE stats SET total_time = total_time + ? WHERE id = 1`, elapsed.Seconds())
		return err
	})
}

func (s *SQLiteDatabase) FailImage(ctx context.Context, id int64, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE images SET status = ?, error = ? WHERE id = ? AND status = ?`,
			string(StatusFailed), reason, id, string(StatusProcessing))
		if err != nil {
			return err
		}
		if err := requireOneRow(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE stats SET failed = failed + 1 WHERE id = 1`)
		return err
	})
}

func (s *SQLiteDatabase) FailProcessingImages(ctx context.Context, reason string) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE images SET status = ?, error = ? WHERE status = ?`,
			string(StatusFailed), reason, string(StatusProcessing))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE stats SET failed = failed + ? WHERE id = 1`, n)
		return err
	})
	return n, err
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotProcessing
	}
	return nil
}

const imageColumns = `id, filename, processed_at, width, height, format, size, caption, status, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*Image, error) {
	var (
		img         Image
		processedAt string
		width       sql.NullInt64
		height      sql.NullInt64
		format      sql.NullString
		size        sql.NullInt64
		caption     sql.NullString
		status      string
		errMsg      sql.NullString
	)
	if err := row.Scan(&img.ID, &img.Filename, &processedAt, &width, &height, &format, &size, &caption, &status, &errMsg); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(timeLayout, processedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid processed_at %q for image %d: %w", processedAt, img.ID, err)
	}
	img.ProcessedAt = parsed
	img.Width = int(width.Int64)
	img.Height = int(height.Int64)
	img.Format = format.String
	img.SizeBytes = size.Int64
	img.Status = Status(status)
	if caption.Valid {
		img.Caption = &caption.String
	}
	if errMsg.Valid {
		img.Error = &errMsg.String
	}
	return &img, nil
}

func (s *SQLiteDatabase) GetImages(ctx context.Context) ([]*Image, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+imageColumns+" FROM images ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	images := make([]*Image, 0)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *SQLiteDatabase) GetImageByID(ctx context.Context, id int64) (*Image, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+imageColumns+" FROM images WHERE id = ?", id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *SQLiteDatabase) GetImageFile(ctx context.Context, id int64, kind FileKind) (*ImageFile, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT image_id, kind, content_type, data FROM image_files WHERE image_id = ? AND kind = ?", id, string(kind))
	var (
		f        ImageFile
		fileKind string
	)
	if err := row.Scan(&f.ImageID, &fileKind, &f.ContentType, &f.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.Kind = FileKind(fileKind)
	return &f, nil
}

func (s *SQLiteDatabase) GetStats(ctx context.Context) (*Stats, error) {
	row := s.db.QueryRowContext(ctx, "SELECT total, failed, total_time FROM stats WHERE id = 1")
	var stats Stats
	if err := row.Scan(&stats.Total, &stats.Failed, &stats.TotalTime); err != nil {
		return nil, err
	}
	return &stats, nil
}
