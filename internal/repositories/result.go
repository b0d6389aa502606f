package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// ResultRepository implements [models.Repository] for [models.ResultRecord] persistence.
//
// Results are immutable: there is no update and Delete removes the row.
type ResultRepository struct {
	db *sql.DB
}

// NewResultRepository creates a new [ResultRepository] with the given database connection
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

const resultColumns = `id, sequence, task_id, operation, source_file_id, output_name, resource_id, created_at`

// Create inserts a new result into the database with generated ID and sequence
func (r *ResultRepository) Create(result *models.ResultRecord) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "results")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	result.SetID(id)
	result.SetSequence(sequence)

	query := `
		INSERT INTO results (id, sequence, task_id, operation, source_file_id, output_name, resource_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id, sequence, result.TaskID(), string(result.Operation()), result.SourceFileID(),
		result.OutputName(), result.ResourceID(), result.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}

	return nil
}

// Get retrieves a result by ID
func (r *ResultRepository) Get(id string) (*models.ResultRecord, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE id = ?`

	result, err := scanResult(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: result %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query result: %w", err)
	}
	return result, nil
}

// Delete removes a result by ID
func (r *ResultRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: result %s", ErrNotFound, id)
	}
	return nil
}

// List retrieves results matching the given criteria, ordered by sequence.
//
// Supported criteria: "task_id", "source_file_id", "operation" (string or [models.Operation]) and "limit" (int).
func (r *ResultRepository) List(criteria map[string]any) ([]*models.ResultRecord, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE 1 = 1`
	args := []any{}

	if taskID, ok := criteria["task_id"].(string); ok && taskID != "" {
		query += " AND task_id = ?"
		args = append(args, taskID)
	}
	if fileID, ok := criteria["source_file_id"].(string); ok && fileID != "" {
		query += " AND source_file_id = ?"
		args = append(args, fileID)
	}
	switch op := criteria["operation"].(type) {
	case models.Operation:
		query += " AND operation = ?"
		args = append(args, string(op))
	case string:
		if op != "" {
			query += " AND operation = ?"
			args = append(args, op)
		}
	}

	query += " ORDER BY sequence ASC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*models.ResultRecord
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return results, nil
}

// ListByTask retrieves every output recorded for taskID
func (r *ResultRepository) ListByTask(taskID string) ([]*models.ResultRecord, error) {
	return r.List(map[string]any{"task_id": taskID})
}

func scanResult(row rowScanner) (*models.ResultRecord, error) {
	var (
		id, taskID, op, sourceFileID, outputName, resourceID string
		sequence                                             int
		createdAt                                            time.Time
	)

	err := row.Scan(&id, &sequence, &taskID, &op, &sourceFileID, &outputName, &resourceID, &createdAt)
	if err != nil {
		return nil, err
	}

	result := models.NewResultRecord(taskID, models.Operation(op), sourceFileID, outputName, resourceID)
	result.SetID(id)
	result.SetSequence(sequence)
	result.SetCreatedAt(createdAt)
	return result, nil
}
