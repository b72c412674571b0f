package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres implements MessageLog and NotificationLog.
type Postgres struct {
	db *sql.DB
}

var (
	_ MessageLog      = (*Postgres)(nil)
	_ NotificationLog = (*Postgres)(nil)
)

// Open connects to databaseURL, verifies the connection and applies pending
// migrations.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: postgres connection failed: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an open database handle. The schema must already exist.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies the embedded migrations. Already up to date is not an error.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("archive: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("archive: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("archive: init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive: migrate up: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (p *Postgres) AppendMessage(ctx context.Context, m *domain.Message) error {
	const query = `
		INSERT INTO chat_messages (id, chat_id, sender_id, text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var sender sql.NullString
	if m.SenderID != nil {
		sender = sql.NullString{String: *m.SenderID, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, query, m.ID, m.ChatID, sender, m.Text, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return apperr.Transient("archive: insert message", err)
	}
	return nil
}

func (p *Postgres) ListMessages(ctx context.Context, chatID string, limit int) ([]*domain.Message, error) {
	const query = `
		SELECT id, chat_id, sender_id, text, created_at, updated_at
		FROM (
			SELECT * FROM chat_messages
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := p.db.QueryContext(ctx, query, chatID, normalizeLimit(limit))
	if err != nil {
		return nil, apperr.Transient("archive: list messages", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var (
			m      domain.Message
			sender sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &sender, &m.Text, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("archive: scan message: %w", err)
		}
		if sender.Valid {
			m.SenderID = &sender.String
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("archive: list messages", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func (p *Postgres) CreateNotification(ctx context.Context, n *domain.Notification) error {
	const query = `
		INSERT INTO notifications (id, recipient_id, sender_id, type, message, chat_id, match_id, delivered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := p.db.ExecContext(ctx, query,
		n.ID,
		n.RecipientID,
		n.SenderID,
		string(n.Type),
		n.Message,
		n.ChatID,
		n.MatchID,
		n.Delivered,
		n.CreatedAt,
	)
	if err != nil {
		return apperr.Transient("archive: insert notification", err)
	}
	return nil
}

func (p *Postgres) MarkDelivered(ctx context.Context, notificationID string) error {
	const query = `UPDATE notifications SET delivered = TRUE WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, notificationID)
	if err != nil {
		return apperr.Transient("archive: mark delivered", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("notification " + notificationID)
	}
	return nil
}

func (p *Postgres) ListNotifications(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	const query = `
		SELECT id, recipient_id, sender_id, type, message, chat_id, match_id, delivered, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, recipientID, normalizeLimit(limit))
	if err != nil {
		return nil, apperr.Transient("archive: list notifications", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var (
			n   domain.Notification
			typ string
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &typ, &n.Message, &n.ChatID, &n.MatchID, &n.Delivered, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("archive: scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("archive: list notifications", err)
	}
	return out, nil
}
