package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campeche/checkout/internal/domain/notify"
)

var _ notify.Inbox = (*Store)(nil)

const (
	insertNotificationSQL = `INSERT INTO notifications (user_id, type, title, message, data)
	VALUES ($1, $2, $3, $4, $5)`

	listNotificationsSQL = `SELECT id, user_id, type, title, message, data, created_at
	FROM notifications
	WHERE user_id = $1
	ORDER BY created_at DESC, id DESC`

	deleteNotificationSQL = `DELETE FROM notifications WHERE id = $1 AND user_id = $2`
)

// Deliver persists the notification so the user can read it later.
func (q *queries) Deliver(ctx context.Context, e notify.Event) error {
	data := e.Data
	if data == nil {
		data = map[string]string{}
	}
	if _, err := q.db.Exec(ctx, insertNotificationSQL, e.UserID, string(e.Type), e.Title, e.Message, data); err != nil {
		return fmt.Errorf("storing %s notification for user %d: %w", e.Type, e.UserID, err)
	}
	return nil
}

func (q *queries) ListNotifications(ctx context.Context, userID int64) ([]notify.Event, error) {
	rows, err := q.db.Query(ctx, listNotificationsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications of user %d: %w", userID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notify.Event, error) {
		var (
			e   notify.Event
			typ string
		)
		err := row.Scan(&e.ID, &e.UserID, &typ, &e.Title, &e.Message, &e.Data, &e.CreatedAt)
		e.Type = notify.Type(typ)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing notifications of user %d: %w", userID, err)
	}
	return out, nil
}

func (q *queries) DeleteNotification(ctx context.Context, userID, id int64) error {
	tag, err := q.db.Exec(ctx, deleteNotificationSQL, id, userID)
	if err != nil {
		return fmt.Errorf("deleting notification %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}
