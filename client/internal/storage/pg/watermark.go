package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
)

func (s *Storage) GetWatermark(ctx context.Context, user domain.Username) (*domain.Watermark, error) {
	w := domain.Watermark{Username: user}
	err := s.db.QueryRowContext(ctx, `
	SELECT last_read_at FROM user_reads WHERE username = $1`, user).Scan(&w.LastReadAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("watermark of %s: %w", user, internal_errors.NotFound)
		}
		return nil, err
	}
	return &w, nil
}

// UpsertWatermark never moves a stored watermark backwards.
func (s *Storage) UpsertWatermark(ctx context.Context, w domain.Watermark) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO user_reads(username, last_read_at)
	VALUES($1, $2)
	ON CONFLICT (username) DO UPDATE
	SET last_read_at = GREATEST(user_reads.last_read_at, EXCLUDED.last_read_at)`,
		w.Username, w.LastReadAt)
	return err
}
