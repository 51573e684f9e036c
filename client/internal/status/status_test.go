package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itchan-dev/pairchat/client/internal/composer"
	"github.com/itchan-dev/pairchat/client/internal/render"
	"github.com/itchan-dev/pairchat/client/internal/session"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
	"github.com/itchan-dev/pairchat/shared/metrics"
)

// Mock structs
type MockEngine struct {
	ViewFunc func() (session.View, error)
	PostFunc func(d session.Draft) error
	posted   []session.Draft
}

func (m *MockEngine) View() (session.View, error) {
	if m.ViewFunc != nil {
		return m.ViewFunc()
	}
	return session.View{}, nil
}

func (m *MockEngine) Post(d session.Draft) error {
	m.posted = append(m.posted, d)
	if m.PostFunc != nil {
		return m.PostFunc(d)
	}
	return nil
}

type MockObjects struct {
	files map[string]string
}

func (m *MockObjects) Read(path string) (io.ReadCloser, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", path, internal_errors.NotFound)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	rr := serve(New(&MockEngine{}, Options{}), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, stateCSP, rr.Header().Get("Content-Security-Policy"))
}

func TestMetrics(t *testing.T) {
	s := New(&MockEngine{}, Options{})
	serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `pairchat_status_requests_total{method="GET",path="/healthz",status="200"}`)
	assert.Contains(t, rr.Body.String(), `pairchat_status_response_bytes_count{path="/healthz"}`)
}

func TestState(t *testing.T) {
	t.Run("renders the view", func(t *testing.T) {
		engine := &MockEngine{ViewFunc: func() (session.View, error) {
			return session.View{
				Rows:   []render.Row{{Id: "m1", Author: "bob", Text: "hi"}},
				Online: []string{"alice", "bob"},
				Typing: []string{"bob"},
				Unread: true,
			}, nil
		}}
		rr := serve(New(engine, Options{}), httptest.NewRequest(http.MethodGet, "/v1/state", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var got map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, true, got["unread"])
		assert.Equal(t, []any{"bob"}, got["typing"])
		rows := got["rows"].([]any)
		require.Len(t, rows, 1)
		assert.Equal(t, "m1", rows[0].(map[string]any)["id"])
	})

	t.Run("engine stopped", func(t *testing.T) {
		engine := &MockEngine{ViewFunc: func() (session.View, error) { return session.View{}, errors.New("loop stopped") }}
		rr := serve(New(engine, Options{}), httptest.NewRequest(http.MethodGet, "/v1/state", nil))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestPostMessage(t *testing.T) {
	replyTo := "7d0a6b8e-2f0c-4a43-9d0e-4c1b1c1e2f3a"

	t.Run("json body", func(t *testing.T) {
		engine := &MockEngine{}
		body := fmt.Sprintf(`{"content":"hello","reply_to":%q}`, replyTo)
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		rr := serve(New(engine, Options{}), req)

		assert.Equal(t, http.StatusAccepted, rr.Code)
		require.Len(t, engine.posted, 1)
		assert.Equal(t, "hello", engine.posted[0].Text)
		require.NotNil(t, engine.posted[0].ReplyTo)
		assert.Equal(t, replyTo, *engine.posted[0].ReplyTo)
	})

	t.Run("invalid reply id", func(t *testing.T) {
		engine := &MockEngine{}
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"content":"x","reply_to":"nope"}`))
		rr := serve(New(engine, Options{}), req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, engine.posted)
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{`))
		rr := serve(New(&MockEngine{}, Options{}), req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("engine errors map to status codes", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{composer.ErrBusy, http.StatusConflict},
			{fmt.Errorf("message x: %w", internal_errors.NotFound), http.StatusNotFound},
			{&internal_errors.ValidationError{Message: "empty"}, http.StatusBadRequest},
		}
		for _, tt := range tests {
			engine := &MockEngine{PostFunc: func(session.Draft) error { return tt.err }}
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"content":"x"}`))
			rr := serve(New(engine, Options{}), req)
			assert.Equal(t, tt.want, rr.Code, tt.err.Error())
		}
	})

	t.Run("multipart with attachments", func(t *testing.T) {
		engine := &MockEngine{}
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("json", `{"content":"look"}`))
		part, err := mw.CreateFormFile("attachments", "cat.png")
		require.NoError(t, err)
		part.Write([]byte("png-bytes"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/v1/messages", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := serve(New(engine, Options{}), req)

		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
		require.Len(t, engine.posted, 1)
		d := engine.posted[0]
		assert.Equal(t, "look", d.Text)
		require.Len(t, d.Files, 1)
		assert.Equal(t, "cat.png", d.Files[0].Name)
		assert.Equal(t, int64(9), d.Files[0].Size)
		data, err := io.ReadAll(d.Files[0].Data)
		require.NoError(t, err)
		assert.Equal(t, "png-bytes", string(data))
	})
}

func TestPostMessage_CountsOutcomes(t *testing.T) {
	accepted := testutil.ToFloat64(metrics.Submits.WithLabelValues("accepted"))
	busy := testutil.ToFloat64(metrics.Submits.WithLabelValues("busy"))
	invalid := testutil.ToFloat64(metrics.Submits.WithLabelValues("invalid"))

	post := func(engine *MockEngine, body string) {
		serve(New(engine, Options{}), httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))
	}
	post(&MockEngine{}, `{"content":"x"}`)
	post(&MockEngine{PostFunc: func(session.Draft) error { return composer.ErrBusy }}, `{"content":"x"}`)
	post(&MockEngine{}, `{`)

	assert.Equal(t, accepted+1, testutil.ToFloat64(metrics.Submits.WithLabelValues("accepted")))
	assert.Equal(t, busy+1, testutil.ToFloat64(metrics.Submits.WithLabelValues("busy")))
	assert.Equal(t, invalid+1, testutil.ToFloat64(metrics.Submits.WithLabelValues("invalid")))
}

func TestObject(t *testing.T) {
	objects := &MockObjects{files: map[string]string{"m1/17-cat.png": "png"}}
	s := New(&MockEngine{}, Options{Objects: objects})

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/objects/m1/17-cat.png", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "png", rr.Body.String())
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/objects/m1/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(New(&MockEngine{}, Options{}), httptest.NewRequest(http.MethodGet, "/objects/m1/17-cat.png", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "disabled without a local store")
}
