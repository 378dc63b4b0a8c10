package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/troylu8/chuuni-keys-server/model"
)

var (
	// ErrNotFound is returned when no chart exists with the given id.
	ErrNotFound = errors.New("chart not found")
	// ErrDuplicateID is returned when an insert collides with an existing id.
	ErrDuplicateID = errors.New("duplicate chart id")
)

// ChartRepository defines the interface for chart data operations.
type ChartRepository interface {
	Count() (int64, error)
	List(offset, limit int64) ([]*model.ChartSummary, error)
	GetByID(id string) (*model.Chart, error)
	Insert(chart *model.Chart) error
	Replace(chart *model.Chart) error
	Delete(id string) error
}

// sqliteChartRepository implements ChartRepository for sqlite.
type sqliteChartRepository struct {
	DB *sql.DB
}

// NewSQLiteChartRepository creates a new instance of sqliteChartRepository.
func NewSQLiteChartRepository(conn *sql.DB) ChartRepository {
	return &sqliteChartRepository{DB: conn}
}

// Count returns the total number of charts.
func (r *sqliteChartRepository) Count() (int64, error) {
	var count int64
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM charts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count charts: %w", err)
	}
	return count, nil
}

// List returns chart summaries in insertion order.
func (r *sqliteChartRepository) List(offset, limit int64) ([]*model.ChartSummary, error) {
	query := `SELECT id, title, difficulty, bpm, audio_ext, img_ext, credit_audio, credit_img, credit_chart
	           FROM charts ORDER BY rowid LIMIT ? OFFSET ?`
	rows, err := r.DB.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query charts: %w", err)
	}
	defer rows.Close()

	summaries := make([]*model.ChartSummary, 0)
	for rows.Next() {
		s := &model.ChartSummary{}
		err := rows.Scan(&s.ID, &s.Title, &s.Difficulty, &s.BPM, &s.AudioExt, &s.ImgExt, &s.CreditAudio, &s.CreditImg, &s.CreditChart)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chart summary: %w", err)
		}
		summaries = append(summaries, s)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in List: %w", err)
	}

	return summaries, nil
}

// GetByID retrieves a full chart row by its id.
func (r *sqliteChartRepository) GetByID(id string) (*model.Chart, error) {
	query := `SELECT id, title, difficulty, bpm, first_beat, preview_time, measure_size, snaps, audio_ext, img_ext, credit_audio, credit_img, credit_chart, owner_hash
	           FROM charts WHERE id = ?`
	row := r.DB.QueryRow(query, id)

	chart := &model.Chart{}
	err := row.Scan(&chart.ID, &chart.Title, &chart.Difficulty, &chart.BPM, &chart.FirstBeat, &chart.PreviewTime,
		&chart.MeasureSize, &chart.Snaps, &chart.AudioExt, &chart.ImgExt, &chart.CreditAudio, &chart.CreditImg, &chart.CreditChart, &chart.OwnerHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan chart %s: %w", id, err)
	}
	return chart, nil
}

// Insert adds a new chart row. Returns ErrDuplicateID if the id is taken.
func (r *sqliteChartRepository) Insert(chart *model.Chart) error {
	query := `INSERT INTO charts (id, title, difficulty, bpm, first_beat, preview_time, measure_size, snaps, audio_ext, img_ext, credit_audio, credit_img, credit_chart, owner_hash)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for Insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(chart.ID, chart.Title, chart.Difficulty, chart.BPM, chart.FirstBeat, chart.PreviewTime,
		chart.MeasureSize, chart.Snaps, chart.AudioExt, chart.ImgExt, chart.CreditAudio, chart.CreditImg, chart.CreditChart, chart.OwnerHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to execute Insert: %w", err)
	}
	return nil
}

// Replace overwrites the row with the given id. Returns ErrNotFound if absent.
func (r *sqliteChartRepository) Replace(chart *model.Chart) error {
	query := `UPDATE charts SET title = ?, difficulty = ?, bpm = ?, first_beat = ?, preview_time = ?, measure_size = ?, snaps = ?, audio_ext = ?, img_ext = ?, credit_audio = ?, credit_img = ?, credit_chart = ?, owner_hash = ?
	           WHERE id = ?`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for Replace: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(chart.Title, chart.Difficulty, chart.BPM, chart.FirstBeat, chart.PreviewTime,
		chart.MeasureSize, chart.Snaps, chart.AudioExt, chart.ImgExt, chart.CreditAudio, chart.CreditImg, chart.CreditChart, chart.OwnerHash, chart.ID)
	if err != nil {
		return fmt.Errorf("failed to execute Replace for chart %s: %w", chart.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for Replace: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row with the given id. Returns ErrNotFound if absent.
func (r *sqliteChartRepository) Delete(id string) error {
	res, err := r.DB.Exec(`DELETE FROM charts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to execute Delete for chart %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for Delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
