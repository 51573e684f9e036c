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

func (c *APIClient) ListMessages(ctx context.Context) ([]domain.Message, error) {
	resp, err := c.do(ctx, http.MethodGet, "/rest/v1/messages?select=*&order=created_at.asc", nil)
	if err != nil {
		return nil, err
	}
	if err := check(resp, "list messages"); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	messages := []domain.Message{}
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to parse messages JSON: %w", err)
	}
	return messages, nil
}

func (c *APIClient) InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	if msg.Attachments == nil {
		msg.Attachments = []domain.Attachment{}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/rest/v1/messages", bytes.NewReader(body),
		prefer("return=representation"))
	if err != nil {
		return nil, err
	}
	return single(resp, "insert message")
}

func (c *APIClient) UpdateMessage(ctx context.Context, id domain.MessageId, patch domain.MessagePatch) (*domain.Message, error) {
	fields, err := patchFields(patch)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}
	path := "/rest/v1/messages?id=" + url.QueryEscape("eq."+id)
	resp, err := c.do(ctx, http.MethodPatch, path, bytes.NewReader(body), prefer("return=representation"))
	if err != nil {
		return nil, err
	}
	rec, err := single(resp, "update message")
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("message %s: %w", id, internal_errors.NotFound)
	}
	return rec, nil
}

// patchFields maps a patch to the column set the backend expects. Deletion clears the
// body columns along with stamping deleted_at.
func patchFields(patch domain.MessagePatch) (map[string]any, error) {
	switch {
	case patch.Deleted != nil:
		return map[string]any{
			"deleted_at":  patch.Deleted,
			"content":     nil,
			"reactions":   domain.Reactions{},
			"attachments": []domain.Attachment{},
		}, nil
	case patch.Content != nil:
		return map[string]any{"content": *patch.Content, "edited_at": patch.EditedAt}, nil
	case patch.Reactions != nil:
		return map[string]any{"reactions": patch.Reactions}, nil
	default:
		return nil, &internal_errors.ValidationError{Message: "empty message patch"}
	}
}

// single decodes a representation array and returns its first row, or nil when empty.
func single(resp *http.Response, op string) (*domain.Message, error) {
	if err := check(resp, op); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rows []domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
