package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// UploadRepository implements [models.Repository] for [models.UploadRecord] persistence.
type UploadRepository struct {
	db *sql.DB
}

// NewUploadRepository creates a new [UploadRepository] with the given database connection
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

const uploadColumns = `id, sequence, file_id, filename, duration, sample_rate, channels, file_size, created_at, deleted_at`

// Create inserts a new upload into the database with generated ID and sequence
func (r *UploadRepository) Create(upload *models.UploadRecord) error {
	if err := upload.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "uploads")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	upload.SetID(id)
	upload.SetSequence(sequence)

	file := upload.File()
	query := `
		INSERT INTO uploads (id, sequence, file_id, filename, duration, sample_rate, channels, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id, sequence, file.ID, file.Filename,
		file.DurationSeconds, file.SampleRateHz, file.ChannelCount, file.FileSizeBytes,
		upload.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}

	return nil
}

// Get retrieves an upload by ID, excluding soft-deleted uploads
func (r *UploadRepository) Get(id string) (*models.UploadRecord, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = ? AND deleted_at IS NULL`

	upload, err := scanUpload(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: upload %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query upload: %w", err)
	}
	return upload, nil
}

// GetByFileID retrieves an upload by the server-assigned file id, excluding soft-deleted uploads
func (r *UploadRepository) GetByFileID(fileID string) (*models.UploadRecord, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE file_id = ? AND deleted_at IS NULL`

	upload, err := scanUpload(r.db.QueryRow(query, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query upload: %w", err)
	}
	return upload, nil
}

// Delete soft-deletes an upload by ID
func (r *UploadRepository) Delete(id string) error {
	return r.softDelete("id", id)
}

// DeleteByFileID soft-deletes the upload with the given server-assigned file id
func (r *UploadRepository) DeleteByFileID(fileID string) error {
	return r.softDelete("file_id", fileID)
}

func (r *UploadRepository) softDelete(column, value string) error {
	query := fmt.Sprintf(`UPDATE uploads SET deleted_at = ? WHERE %s = ? AND deleted_at IS NULL`, column)

	result, err := r.db.Exec(query, time.Now().UTC(), value)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: upload %s not found or already deleted", ErrNotFound, value)
	}

	return nil
}

// List retrieves uploads matching the given criteria, newest first.
//
// Supported criteria: "filename" (substring match), "include_deleted" (bool) and "limit" (int).
func (r *UploadRepository) List(criteria map[string]any) ([]*models.UploadRecord, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE 1 = 1`
	args := []any{}

	if deleted, _ := criteria["include_deleted"].(bool); !deleted {
		query += " AND deleted_at IS NULL"
	}
	if filename, ok := criteria["filename"].(string); ok && filename != "" {
		query += " AND filename LIKE ?"
		args = append(args, "%"+filename+"%")
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*models.UploadRecord
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, upload)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return uploads, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*models.UploadRecord, error) {
	var (
		id         string
		sequence   int
		file       models.AudioFile
		duration   sql.NullFloat64
		sampleRate sql.NullInt64
		channels   sql.NullInt64
		createdAt  time.Time
		deletedAt  sql.NullTime
	)

	err := row.Scan(&id, &sequence, &file.ID, &file.Filename, &duration, &sampleRate, &channels,
		&file.FileSizeBytes, &createdAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	if duration.Valid {
		file.DurationSeconds = &duration.Float64
	}
	if sampleRate.Valid {
		v := int(sampleRate.Int64)
		file.SampleRateHz = &v
	}
	if channels.Valid {
		v := int(channels.Int64)
		file.ChannelCount = &v
	}

	upload := models.NewUploadRecord(sequence, file)
	upload.SetID(id)
	upload.SetCreatedAt(createdAt)
	if deletedAt.Valid {
		upload.SetDeletedAt(&deletedAt.Time)
	}
	return upload, nil
}
