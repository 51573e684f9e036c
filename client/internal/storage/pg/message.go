package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
)

const messageColumns = `id, user_name, content, attachments, reactions, reply_to, created_at, edited_at, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.Message, error) {
	var (
		msg         domain.Message
		content     sql.NullString
		attachments []byte
		reactions   []byte
	)
	err := row.Scan(&msg.Id, &msg.Author, &content, &attachments, &reactions, &msg.ReplyTo,
		&msg.CreatedAt, &msg.EditedAt, &msg.DeletedAt)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Content = content.String
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return domain.Message{}, fmt.Errorf("decode attachments of %s: %w", msg.Id, err)
		}
	}
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
			return domain.Message{}, fmt.Errorf("decode reactions of %s: %w", msg.Id, err)
		}
	}
	return msg, nil
}

// jsonb encodes v as text; lib/pq would send a []byte as bytea.
func jsonb(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Storage) ListMessages(ctx context.Context) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetMessage reads one row. An unknown id is NotFound.
func (s *Storage) GetMessage(ctx context.Context, id domain.MessageId) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	rec, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, internal_errors.NotFound)
		}
		return nil, err
	}
	return &rec, nil
}

// InsertMessage stores msg and returns the row. Inserting an id that already exists
// returns the stored row unchanged, so a retried send is harmless.
func (s *Storage) InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	encoded, err := jsonb(attachments)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
	INSERT INTO messages(id, user_name, content, reply_to, attachments)
	VALUES($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET id = messages.id -- no-op so RETURNING yields the existing row
	RETURNING `+messageColumns,
		msg.Id, msg.Author, msg.Content, msg.ReplyTo, encoded)
	rec, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateMessage applies one patch group. An unknown id is NotFound.
func (s *Storage) UpdateMessage(ctx context.Context, id domain.MessageId, patch domain.MessagePatch) (*domain.Message, error) {
	var row *sql.Row
	switch {
	case patch.Deleted != nil:
		row = s.db.QueryRowContext(ctx, `
		UPDATE messages SET
			deleted_at = $2,
			content = NULL,
			attachments = '[]',
			reactions = '{}'
		WHERE id = $1
		RETURNING `+messageColumns, id, *patch.Deleted)
	case patch.Content != nil:
		row = s.db.QueryRowContext(ctx, `
		UPDATE messages SET
			content = $2,
			edited_at = $3
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+messageColumns, id, *patch.Content, patch.EditedAt)
	case patch.Reactions != nil:
		encoded, err := jsonb(patch.Reactions)
		if err != nil {
			return nil, err
		}
		row = s.db.QueryRowContext(ctx, `
		UPDATE messages SET reactions = $2
		WHERE id = $1
		RETURNING `+messageColumns, id, encoded)
	default:
		return nil, &internal_errors.ValidationError{Message: "empty message patch"}
	}

	rec, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, internal_errors.NotFound)
		}
		return nil, err
	}
	return &rec, nil
}
