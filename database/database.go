package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/wakecap/siteguard-video-analyzer/config"

	_ "github.com/go-sql-driver/mysql"
)

// Database wraps the MySQL connection behind the store interfaces the
// service layer consumes.
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with exponential backoff retry
	var waitInterval time.Duration = 1 * time.Second
	for {
		if err := db.Ping(); err == nil {
			break // Connection successful
		} else {
			log.Infof("Database connection failed, retrying in %v: %v", waitInterval, err)
		}
		time.Sleep(waitInterval)
		waitInterval *= 2 // Exponential backoff: 1s, 2s, 4s, 8s, ...
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateTables creates all tables used by the analyzer if they don't exist
func (d *Database) CreateTables() error {
	queries := []struct {
		name  string
		query string
	}{
		{"videos", `
	CREATE TABLE IF NOT EXISTS videos (
		id VARCHAR(36) PRIMARY KEY,
		file_name VARCHAR(500) NOT NULL,
		stored_path VARCHAR(1000) NOT NULL,
		source_uri VARCHAR(1000) DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		duration_seconds DOUBLE NOT NULL DEFAULT 0,
		status ENUM('pending', 'processing', 'completed', 'error') NOT NULL DEFAULT 'pending',
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_videos_status (status)
	)`},
		{"reports", `
	CREATE TABLE IF NOT EXISTS reports (
		id VARCHAR(36) PRIMARY KEY,
		video_id VARCHAR(36) DEFAULT '',
		video_file_name VARCHAR(500) DEFAULT '',
		source_uri VARCHAR(1000) DEFAULT '',
		video_duration_seconds DOUBLE NOT NULL DEFAULT 0,
		hazard_context TEXT,
		instructions TEXT,
		summary TEXT,
		safety_score INT NULL,
		analysis_error TEXT,
		raw_response MEDIUMTEXT,
		status ENUM('pending_review', 'reviewed', 'action_required', 'closed') NOT NULL DEFAULT 'pending_review',
		analyzed_at TIMESTAMP NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_reports_video_id (video_id),
		INDEX idx_reports_status (status),
		INDEX idx_reports_analyzed_at (analyzed_at)
	)`},
		{"report_violations", `
	CREATE TABLE IF NOT EXISTS report_violations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		report_id VARCHAR(36) NOT NULL,
		position INT NOT NULL,
		description TEXT,
		start_time_seconds DOUBLE NOT NULL DEFAULT 0,
		end_time_seconds DOUBLE NOT NULL DEFAULT 0,
		duration_seconds DOUBLE NOT NULL DEFAULT 0,
		severity VARCHAR(16) NOT NULL DEFAULT 'Info',
		on_screen_start VARCHAR(64) DEFAULT '',
		on_screen_end VARCHAR(64) DEFAULT '',
		thumbnail_status ENUM('pending', 'captured', 'failed') NOT NULL DEFAULT 'pending',
		thumbnail LONGBLOB,
		UNIQUE KEY uq_violations_report_position (report_id, position),
		INDEX idx_violations_report (report_id),
		INDEX idx_violations_thumbnail_status (thumbnail_status)
	)`},
		{"report_observations", `
	CREATE TABLE IF NOT EXISTS report_observations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		report_id VARCHAR(36) NOT NULL,
		position INT NOT NULL,
		observation TEXT,
		INDEX idx_observations_report (report_id)
	)`},
		{"projects", `
	CREATE TABLE IF NOT EXISTS projects (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		address VARCHAR(500) DEFAULT '',
		latitude DOUBLE NOT NULL DEFAULT 0,
		longitude DOUBLE NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`},
		{"cameras", `
	CREATE TABLE IF NOT EXISTS cameras (
		id VARCHAR(36) PRIMARY KEY,
		project_id VARCHAR(36) DEFAULT '',
		name VARCHAR(255) NOT NULL,
		latitude DOUBLE NOT NULL DEFAULT 0,
		longitude DOUBLE NOT NULL DEFAULT 0,
		s2_cell_id BIGINT UNSIGNED NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_cameras_project (project_id),
		INDEX idx_cameras_s2_cell (s2_cell_id)
	)`},
	}

	for _, q := range queries {
		if _, err := d.db.Exec(q.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", q.name, err)
		}
	}

	log.Infof("Analyzer tables created/verified successfully")
	return nil
}

// columnExists checks if a column exists in a table
func (d *Database) columnExists(tableName, columnName string) (bool, error) {
	query := `
	SELECT COUNT(*)
	FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = DATABASE()
	AND TABLE_NAME = ?
	AND COLUMN_NAME = ?`

	var count int
	err := d.db.QueryRow(query, tableName, columnName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check if column exists: %w", err)
	}

	return count > 0, nil
}

// indexExists checks if an index exists in a table
func (d *Database) indexExists(tableName, indexName string) (bool, error) {
	query := `
	SELECT COUNT(*)
	FROM INFORMATION_SCHEMA.STATISTICS
	WHERE TABLE_SCHEMA = DATABASE()
	AND TABLE_NAME = ?
	AND INDEX_NAME = ?`

	var count int
	err := d.db.QueryRow(query, tableName, indexName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check if index exists: %w", err)
	}

	return count > 0, nil
}

// MigrateTables applies additive schema changes to pre-existing deployments.
func (d *Database) MigrateTables() error {
	// Check and add operator_comment column
	exists, err := d.columnExists("reports", "operator_comment")
	if err != nil {
		return fmt.Errorf("failed to check if operator_comment column exists: %w", err)
	}

	if !exists {
		log.Infof("Adding operator_comment column to reports table...")
		if _, err := d.db.Exec("ALTER TABLE reports ADD COLUMN operator_comment TEXT"); err != nil {
			return fmt.Errorf("failed to add operator_comment column: %w", err)
		}
		log.Infof("Successfully added operator_comment column to reports table")
	} else {
		log.Infof("operator_comment column already exists in reports table, skipping migration")
	}

	// Check and add error column on videos
	exists, err = d.columnExists("videos", "error")
	if err != nil {
		return fmt.Errorf("failed to check if error column exists: %w", err)
	}

	if !exists {
		log.Infof("Adding error column to videos table...")
		if _, err := d.db.Exec("ALTER TABLE videos ADD COLUMN error TEXT"); err != nil {
			return fmt.Errorf("failed to add error column: %w", err)
		}
		log.Infof("Successfully added error column to videos table")
	} else {
		log.Infof("error column already exists in videos table, skipping migration")
	}

	// Check and add pending-thumbnail index used by the backfill worker
	exists, err = d.indexExists("report_violations", "idx_violations_thumbnail_status")
	if err != nil {
		return fmt.Errorf("failed to check if thumbnail status index exists: %w", err)
	}

	if !exists {
		log.Infof("Adding thumbnail status index to report_violations table...")
		if _, err := d.db.Exec("ALTER TABLE report_violations ADD INDEX idx_violations_thumbnail_status (thumbnail_status)"); err != nil {
			return fmt.Errorf("failed to add thumbnail status index: %w", err)
		}
		log.Infof("Successfully added thumbnail status index to report_violations table")
	} else {
		log.Infof("Thumbnail status index already exists in report_violations table, skipping migration")
	}

	return nil
}
