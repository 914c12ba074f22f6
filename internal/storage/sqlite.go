package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"alertbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListInstances(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT instance_id FROM deliveries WHERE enabled = 1 ORDER BY instance_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) ListDeliveries(ctx context.Context, instanceID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT delivery_id FROM deliveries WHERE enabled = 1 AND instance_id = ? ORDER BY delivery_id`,
		instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) ListTodayAlerts(ctx context.Context, deliveryID int64) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT delivery_id, alert_id, title, COALESCE(description,''), media_type_id,
		        source_name, COALESCE(group_name,''), article_type, query_id, page_user_id, created_at
		   FROM alerts
		  WHERE delivery_id = ? AND date(created_at, 'localtime') = date('now', 'localtime')
		  ORDER BY created_at, alert_id`,
		deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var created string
		if err := rows.Scan(&a.DeliveryID, &a.AlertID, &a.Title, &a.Description, &a.MediaTypeID,
			&a.SourceName, &a.GroupName, &a.ArticleType, &a.QueryID, &a.PageUserID, &created); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			a.CreatedAt = t
		} else {
			s.log.Warn("alert has malformed created_at",
				logx.Int64("delivery", a.DeliveryID),
				logx.Int64("alert", a.AlertID),
				logx.Err(perr))
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) IsAlertSent(ctx context.Context, deliveryID, alertID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sent_alerts WHERE delivery_id = ? AND alert_id = ?`,
		deliveryID, alertID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkAlertSent(ctx context.Context, deliveryID, alertID int64) error {
	// INSERT OR IGNORE keeps this idempotent under duplicate delivery.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sent_alerts(delivery_id, alert_id, sent_at) VALUES(?,?,?)`,
		deliveryID, alertID, time.Now().Format(time.RFC3339Nano))
	return err
}
