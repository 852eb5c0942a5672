package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

// CreateVideo inserts a new video row. The id must already be set.
func (d *Database) CreateVideo(ctx context.Context, video *models.Video) error {
	query := `
	INSERT INTO videos (id, file_name, stored_path, source_uri, size_bytes, duration_seconds, status, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		video.ID,
		video.FileName,
		video.StoredPath,
		video.SourceURI,
		video.SizeBytes,
		video.DurationSeconds,
		string(video.Status),
		video.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

// GetVideo fetches one video by id.
func (d *Database) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	query := `
	SELECT id, file_name, stored_path, source_uri, size_bytes, duration_seconds, status, error, created_at, updated_at
	FROM videos
	WHERE id = ?`

	video, err := scanVideo(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("video %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch video %s: %w", id, err)
	}
	return video, nil
}

// ListVideos returns all videos, newest first.
func (d *Database) ListVideos(ctx context.Context) ([]*models.Video, error) {
	query := `
	SELECT id, file_name, stored_path, source_uri, size_bytes, duration_seconds, status, error, created_at, updated_at
	FROM videos
	ORDER BY created_at DESC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	videos := []*models.Video{}
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVideo(row rowScanner) (*models.Video, error) {
	var (
		video      models.Video
		storedPath sql.NullString
		sourceURI  sql.NullString
		videoError sql.NullString
		status     string
	)
	err := row.Scan(
		&video.ID,
		&video.FileName,
		&storedPath,
		&sourceURI,
		&video.SizeBytes,
		&video.DurationSeconds,
		&status,
		&videoError,
		&video.CreatedAt,
		&video.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	video.StoredPath = storedPath.String
	video.SourceURI = sourceURI.String
	video.Status = models.ProcessingStatus(status)
	video.Error = videoError.String
	return &video, nil
}

// UpdateVideo rewrites the mutable columns of a video row.
func (d *Database) UpdateVideo(ctx context.Context, video *models.Video) error {
	query := `
	UPDATE videos
	SET stored_path = ?, size_bytes = ?, duration_seconds = ?, status = ?, error = ?
	WHERE id = ?`

	res, err := d.db.ExecContext(ctx, query,
		video.StoredPath,
		video.SizeBytes,
		video.DurationSeconds,
		string(video.Status),
		video.Error,
		video.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update video %s: %w", video.ID, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		var count int
		if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM videos WHERE id = ?", video.ID).Scan(&count); err == nil && count == 0 {
			return fmt.Errorf("video %s: %w", video.ID, models.ErrNotFound)
		}
	}
	return nil
}

// DeleteVideo removes a video row. Reports derived from the video are kept;
// they carry their own copy of the video metadata.
func (d *Database) DeleteVideo(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete video %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("video %s: %w", id, models.ErrNotFound)
	}
	return nil
}
