package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the tables in dependency order.  Statements are idempotent
// so Migrate can run on every start when DB_AUTO_MIGRATE is set.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username        VARCHAR(50)  NOT NULL,
		email           VARCHAR(255) NOT NULL,
		hashed_password VARCHAR(255) NOT NULL,
		is_active       TINYINT(1)   NOT NULL DEFAULT 0,
		is_admin        TINYINT(1)   NOT NULL DEFAULT 0,
		status          ENUM('pending','approved','rejected') NOT NULL DEFAULT 'pending',
		created_at      DATETIME(6)  NOT NULL,
		updated_at      DATETIME(6)  NOT NULL,
		approved_at     DATETIME(6)  NULL,
		approved_by     VARCHAR(50)  NULL,
		PRIMARY KEY (username),
		UNIQUE KEY uq_users_email (email),
		KEY idx_users_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token_hash CHAR(64)    NOT NULL,
		username   VARCHAR(50) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (token_hash),
		KEY idx_refresh_tokens_username (username),
		KEY idx_refresh_tokens_expires (expires_at),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (username) REFERENCES users (username) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS posters (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		username   VARCHAR(50) NOT NULL,
		message    TEXT        NOT NULL,
		privacy    ENUM('public','community','private') NOT NULL DEFAULT 'private',
		created_at DATETIME(6) NOT NULL,
		is_deleted TINYINT(1)  NOT NULL DEFAULT 0,
		deleted_at DATETIME(6) NULL,
		PRIMARY KEY (id),
		KEY idx_posters_feed (is_deleted, privacy, created_at),
		KEY idx_posters_owner (username, is_deleted),
		CONSTRAINT fk_posters_user FOREIGN KEY (username) REFERENCES users (username) ON DELETE CASCADE,
		CONSTRAINT chk_posters_deleted CHECK ((is_deleted = 1) = (deleted_at IS NOT NULL))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS images (
		filename          VARCHAR(255) NOT NULL,
		original_filename VARCHAR(255) NOT NULL,
		username          VARCHAR(50)  NOT NULL,
		file_path         VARCHAR(512) NOT NULL,
		file_size         BIGINT       NOT NULL,
		content_type      VARCHAR(100) NOT NULL,
		uploaded_at       DATETIME(6)  NOT NULL,
		poster_id         BIGINT UNSIGNED NULL,
		position          INT          NOT NULL DEFAULT 0,
		PRIMARY KEY (filename),
		KEY idx_images_username (username),
		KEY idx_images_poster (poster_id, position),
		CONSTRAINT fk_images_poster FOREIGN KEY (poster_id) REFERENCES posters (id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS archived_posters (
		id                  BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		original_id         BIGINT UNSIGNED NOT NULL,
		username            VARCHAR(50)  NOT NULL,
		message             TEXT         NOT NULL,
		original_image_path VARCHAR(512) NOT NULL DEFAULT '',
		image_filename      VARCHAR(255) NOT NULL DEFAULT '',
		created_at          DATETIME(6)  NOT NULL,
		deleted_at          DATETIME(6)  NOT NULL,
		archived_at         DATETIME(6)  NOT NULL,
		privacy             ENUM('public','community','private') NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_archived_original (original_id),
		KEY idx_archived_owner (username, archived_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
