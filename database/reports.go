package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

// CreateReport inserts a report with its violations and observations in one
// transaction. The report id must already be set.
func (d *Database) CreateReport(ctx context.Context, report *models.Report) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO reports (
		id, video_id, video_file_name, source_uri, video_duration_seconds,
		hazard_context, instructions, operator_comment,
		summary, safety_score, analysis_error, raw_response,
		status, analyzed_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		report.ID,
		report.VideoID,
		report.VideoFileName,
		report.SourceURI,
		report.VideoDuration,
		report.HazardContext,
		report.Instructions,
		report.OperatorComment,
		report.Summary,
		scoreValue(report.SafetyScore),
		report.Error,
		report.RawResponse,
		string(report.Status),
		timeValue(report.AnalyzedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	if err := insertViolations(ctx, tx, report.ID, report.Violations); err != nil {
		return err
	}
	if err := insertObservations(ctx, tx, report.ID, report.PositiveObservations); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

func insertViolations(ctx context.Context, tx *sql.Tx, reportID string, violations []models.Violation) error {
	query := `
	INSERT INTO report_violations (
		report_id, position, description,
		start_time_seconds, end_time_seconds, duration_seconds,
		severity, on_screen_start, on_screen_end,
		thumbnail_status, thumbnail
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for i, v := range violations {
		status := v.ThumbnailStatus
		if status == "" {
			status = models.ThumbnailPending
		}
		_, err := tx.ExecContext(ctx, query,
			reportID,
			i,
			v.Description,
			v.StartTimeSeconds,
			v.EndTimeSeconds,
			v.DurationSeconds,
			string(v.Severity),
			v.OnScreenStart,
			v.OnScreenEnd,
			string(status),
			v.Thumbnail,
		)
		if err != nil {
			return fmt.Errorf("failed to insert violation %d: %w", i, err)
		}
	}
	return nil
}

func insertObservations(ctx context.Context, tx *sql.Tx, reportID string, observations []string) error {
	query := `INSERT INTO report_observations (report_id, position, observation) VALUES (?, ?, ?)`
	for i, obs := range observations {
		if _, err := tx.ExecContext(ctx, query, reportID, i, obs); err != nil {
			return fmt.Errorf("failed to insert observation %d: %w", i, err)
		}
	}
	return nil
}

// GetReport fetches one report with its violations (thumbnails included) and
// observations.
func (d *Database) GetReport(ctx context.Context, id string) (*models.Report, error) {
	report, err := d.scanReportRow(ctx, id)
	if err != nil {
		return nil, err
	}

	query := `
	SELECT position, description, start_time_seconds, end_time_seconds, duration_seconds,
	       severity, on_screen_start, on_screen_end, thumbnail_status, thumbnail
	FROM report_violations
	WHERE report_id = ?
	ORDER BY position ASC`

	rows, err := d.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations for report %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			position    int
			v           models.Violation
			description sql.NullString
			severity    sql.NullString
			onStart     sql.NullString
			onEnd       sql.NullString
			status      string
		)
		err := rows.Scan(
			&position,
			&description,
			&v.StartTimeSeconds,
			&v.EndTimeSeconds,
			&v.DurationSeconds,
			&severity,
			&onStart,
			&onEnd,
			&status,
			&v.Thumbnail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Description = description.String
		v.Severity = models.Severity(severity.String)
		v.OnScreenStart = onStart.String
		v.OnScreenEnd = onEnd.String
		v.ThumbnailStatus = models.ThumbnailStatus(status)
		report.Violations = append(report.Violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read violations: %w", err)
	}

	observations, err := d.loadObservations(ctx, id)
	if err != nil {
		return nil, err
	}
	report.PositiveObservations = observations

	report.Normalize()
	return report, nil
}

func (d *Database) scanReportRow(ctx context.Context, id string) (*models.Report, error) {
	query := `
	SELECT id, video_id, video_file_name, source_uri, video_duration_seconds,
	       hazard_context, instructions, operator_comment,
	       summary, safety_score, analysis_error, raw_response,
	       status, analyzed_at, created_at, updated_at
	FROM reports
	WHERE id = ?`

	var (
		report          models.Report
		hazardContext   sql.NullString
		instructions    sql.NullString
		operatorComment sql.NullString
		summary         sql.NullString
		safetyScore     sql.NullInt64
		analysisError   sql.NullString
		rawResponse     sql.NullString
		status          string
		analyzedAt      sql.NullTime
	)

	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&report.ID,
		&report.VideoID,
		&report.VideoFileName,
		&report.SourceURI,
		&report.VideoDuration,
		&hazardContext,
		&instructions,
		&operatorComment,
		&summary,
		&safetyScore,
		&analysisError,
		&rawResponse,
		&status,
		&analyzedAt,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("report %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch report %s: %w", id, err)
	}

	report.HazardContext = hazardContext.String
	report.Instructions = instructions.String
	report.OperatorComment = operatorComment.String
	report.Summary = summary.String
	if safetyScore.Valid {
		score := int(safetyScore.Int64)
		report.SafetyScore = &score
	}
	report.Error = analysisError.String
	report.RawResponse = rawResponse.String
	report.Status = models.ReportStatus(status)
	if analyzedAt.Valid {
		report.AnalyzedAt = analyzedAt.Time
	}
	return &report, nil
}

func (d *Database) loadObservations(ctx context.Context, reportID string) ([]string, error) {
	query := `SELECT observation FROM report_observations WHERE report_id = ? ORDER BY position ASC`

	rows, err := d.db.QueryContext(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations for report %s: %w", reportID, err)
	}
	defer rows.Close()

	observations := []string{}
	for rows.Next() {
		var obs string
		if err := rows.Scan(&obs); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}
	return observations, nil
}

// ListReports returns all reports ordered by analysis time, newest first.
// Violations carry their thumbnail status but not the image bytes; fetch a
// single report or its thumbnail when the bytes are needed.
func (d *Database) ListReports(ctx context.Context) ([]*models.Report, error) {
	query := `
	SELECT id, video_id, video_file_name, source_uri, video_duration_seconds,
	       hazard_context, instructions, operator_comment,
	       summary, safety_score, analysis_error,
	       status, analyzed_at, created_at, updated_at
	FROM reports
	ORDER BY analyzed_at DESC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var (
		reports []*models.Report
		byID    = map[string]*models.Report{}
	)
	for rows.Next() {
		var (
			report          models.Report
			hazardContext   sql.NullString
			instructions    sql.NullString
			operatorComment sql.NullString
			summary         sql.NullString
			safetyScore     sql.NullInt64
			analysisError   sql.NullString
			status          string
			analyzedAt      sql.NullTime
		)
		err := rows.Scan(
			&report.ID,
			&report.VideoID,
			&report.VideoFileName,
			&report.SourceURI,
			&report.VideoDuration,
			&hazardContext,
			&instructions,
			&operatorComment,
			&summary,
			&safetyScore,
			&analysisError,
			&status,
			&analyzedAt,
			&report.CreatedAt,
			&report.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		report.HazardContext = hazardContext.String
		report.Instructions = instructions.String
		report.OperatorComment = operatorComment.String
		report.Summary = summary.String
		if safetyScore.Valid {
			score := int(safetyScore.Int64)
			report.SafetyScore = &score
		}
		report.Error = analysisError.String
		report.Status = models.ReportStatus(status)
		if analyzedAt.Valid {
			report.AnalyzedAt = analyzedAt.Time
		}
		report.Violations = []models.Violation{}
		report.PositiveObservations = []string{}

		reports = append(reports, &report)
		byID[report.ID] = &report
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}
	if len(reports) == 0 {
		return []*models.Report{}, nil
	}

	if err := d.attachViolationSummaries(ctx, byID); err != nil {
		return nil, err
	}
	if err := d.attachObservations(ctx, byID); err != nil {
		return nil, err
	}
	return reports, nil
}

func (d *Database) attachViolationSummaries(ctx context.Context, byID map[string]*models.Report) error {
	ids := make([]interface{}, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	query := fmt.Sprintf(`
	SELECT report_id, position, description, start_time_seconds, end_time_seconds, duration_seconds,
	       severity, on_screen_start, on_screen_end, thumbnail_status
	FROM report_violations
	WHERE report_id IN (%s)
	ORDER BY report_id, position ASC`, placeholders(len(ids)))

	rows, err := d.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			reportID    string
			position    int
			v           models.Violation
			description sql.NullString
			severity    sql.NullString
			onStart     sql.NullString
			onEnd       sql.NullString
			status      string
		)
		err := rows.Scan(
			&reportID,
			&position,
			&description,
			&v.StartTimeSeconds,
			&v.EndTimeSeconds,
			&v.DurationSeconds,
			&severity,
			&onStart,
			&onEnd,
			&status,
		)
		if err != nil {
			return fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Description = description.String
		v.Severity = models.Severity(severity.String)
		v.OnScreenStart = onStart.String
		v.OnScreenEnd = onEnd.String
		v.ThumbnailStatus = models.ThumbnailStatus(status)
		if report, ok := byID[reportID]; ok {
			report.Violations = append(report.Violations, v)
		}
	}
	return rows.Err()
}

func (d *Database) attachObservations(ctx context.Context, byID map[string]*models.Report) error {
	ids := make([]interface{}, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	query := fmt.Sprintf(`
	SELECT report_id, observation
	FROM report_observations
	WHERE report_id IN (%s)
	ORDER BY report_id, position ASC`, placeholders(len(ids)))

	rows, err := d.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reportID, obs string
		if err := rows.Scan(&reportID, &obs); err != nil {
			return fmt.Errorf("failed to scan observation: %w", err)
		}
		if report, ok := byID[reportID]; ok {
			report.PositiveObservations = append(report.PositiveObservations, obs)
		}
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// UpdateReport applies a partial update and returns the fresh report.
// Violations, when present, replace the stored set wholesale.
func (d *Database) UpdateReport(ctx context.Context, id string, patch models.ReportPatch) (*models.Report, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		sets []string
		args []interface{}
	)
	if patch.OperatorComment != nil {
		sets = append(sets, "operator_comment = ?")
		args = append(args, *patch.OperatorComment)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}

	if len(sets) > 0 {
		args = append(args, id)
		query := fmt.Sprintf("UPDATE reports SET %s WHERE id = ?", strings.Join(sets, ", "))
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to update report %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err == nil && affected == 0 {
			if exists, checkErr := reportExists(ctx, tx, id); checkErr == nil && !exists {
				return nil, fmt.Errorf("report %s: %w", id, models.ErrNotFound)
			}
		}
	} else {
		exists, err := reportExists(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("report %s: %w", id, models.ErrNotFound)
		}
	}

	if patch.Violations != nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM report_violations WHERE report_id = ?", id); err != nil {
			return nil, fmt.Errorf("failed to clear violations for report %s: %w", id, err)
		}
		if err := insertViolations(ctx, tx, id, patch.Violations); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit report update: %w", err)
	}

	return d.GetReport(ctx, id)
}

func reportExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check report %s: %w", id, err)
	}
	return count > 0, nil
}

// UpdateViolationThumbnail stores the capture outcome for one violation.
// A nil thumb with a failed status records the attempt without bytes.
func (d *Database) UpdateViolationThumbnail(ctx context.Context, reportID string, position int, status models.ThumbnailStatus, thumb []byte) error {
	query := `
	UPDATE report_violations
	SET thumbnail_status = ?, thumbnail = ?
	WHERE report_id = ? AND position = ?`

	res, err := d.db.ExecContext(ctx, query, string(status), thumb, reportID, position)
	if err != nil {
		return fmt.Errorf("failed to update thumbnail for report %s violation %d: %w", reportID, position, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		var count int
		if err := d.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM report_violations WHERE report_id = ? AND position = ?",
			reportID, position).Scan(&count); err == nil && count == 0 {
			return fmt.Errorf("report %s violation %d: %w", reportID, position, models.ErrNotFound)
		}
	}
	return nil
}

// GetViolationThumbnail returns the stored thumbnail bytes and status for
// one violation.
func (d *Database) GetViolationThumbnail(ctx context.Context, reportID string, position int) ([]byte, models.ThumbnailStatus, error) {
	query := `
	SELECT thumbnail, thumbnail_status
	FROM report_violations
	WHERE report_id = ? AND position = ?`

	var (
		thumb  []byte
		status string
	)
	err := d.db.QueryRowContext(ctx, query, reportID, position).Scan(&thumb, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", fmt.Errorf("report %s violation %d: %w", reportID, position, models.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to fetch thumbnail for report %s violation %d: %w", reportID, position, err)
	}
	return thumb, models.ThumbnailStatus(status), nil
}

// ListReportIDsWithPendingThumbnails returns ids of reports that still have
// unattempted captures, oldest report first, for the backfill worker. A
// non-positive limit returns them all.
func (d *Database) ListReportIDsWithPendingThumbnails(ctx context.Context, limit int) ([]string, error) {
	query := `
	SELECT v.report_id
	FROM report_violations v
	JOIN reports r ON r.id = v.report_id
	WHERE v.thumbnail_status = 'pending'
	GROUP BY v.report_id
	ORDER BY MIN(r.created_at) ASC, v.report_id ASC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending thumbnails: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteReport removes a report and cascades to its violations and
// observations.
func (d *Database) DeleteReport(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM report_violations WHERE report_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete violations for report %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM report_observations WHERE report_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete observations for report %s: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete report %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("report %s: %w", id, models.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report delete: %w", err)
	}
	return nil
}

func scoreValue(score *int) interface{} {
	if score == nil {
		return nil
	}
	return *score
}

func timeValue(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
