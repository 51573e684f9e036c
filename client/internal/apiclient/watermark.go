package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
)

func (c *APIClient) GetWatermark(ctx context.Context, user domain.Username) (*domain.Watermark, error) {
	path := "/rest/v1/user_reads?select=username,last_read_at&username=" + url.QueryEscape("eq."+user)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := check(resp, "get watermark"); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rows []domain.Watermark
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse watermark JSON: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("watermark of %s: %w", user, internal_errors.NotFound)
	}
	return &rows[0], nil
}

func (c *APIClient) UpsertWatermark(ctx context.Context, w domain.Watermark) error {
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode watermark: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/rest/v1/user_reads?on_conflict=username", bytes.NewReader(body),
		prefer("resolution=merge-duplicates"), prefer("return=minimal"))
	if err != nil {
		return err
	}
	if err := check(resp, "upsert watermark"); err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
