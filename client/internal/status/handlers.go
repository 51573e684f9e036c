package status

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/itchan-dev/pairchat/client/internal/composer"
	"github.com/itchan-dev/pairchat/client/internal/session"
	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
	"github.com/itchan-dev/pairchat/shared/metrics"
	"github.com/itchan-dev/pairchat/shared/utils"
)

type postRequest struct {
	Content string            `json:"content"`
	ReplyTo *domain.MessageId `json:"reply_to" validate:"omitempty,uuid"`
}

// Health is a liveness probe endpoint.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) State(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.View()
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, v)
}

// PostMessage submits a message as if typed into the composer. It accepts a JSON body, or
// a multipart form with the JSON in the "json" field and images under "attachments".
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	var body postRequest
	var files []domain.File

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var err error
		body, files, err = s.parseMultipart(w, r)
		if err != nil {
			metrics.Submits.WithLabelValues("invalid").Inc()
			utils.WriteErrorAndStatusCode(w, err)
			return
		}
	} else if err := utils.DecodeValidate(r.Body, &body); err != nil {
		metrics.Submits.WithLabelValues("invalid").Inc()
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	err := s.engine.Post(session.Draft{Text: body.Content, ReplyTo: body.ReplyTo, Files: files})
	if err != nil {
		outcome := "failed"
		switch {
		case errors.Is(err, composer.ErrBusy):
			outcome = "busy"
			err = &internal_errors.ErrorWithStatusCode{Message: err.Error(), StatusCode: http.StatusConflict}
		case utils.StatusCode(err) < http.StatusInternalServerError:
			outcome = "invalid"
		}
		metrics.Submits.WithLabelValues(outcome).Inc()
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	metrics.Submits.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
}

// parseMultipart reads uploads fully into memory; the composer uploads them after the
// request has returned.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) (postRequest, []domain.File, error) {
	var body postRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(s.opts.MaxUploadSize); err != nil {
		return body, nil, &internal_errors.ErrorWithStatusCode{
			Message:    fmt.Sprintf("invalid multipart form: %v", err),
			StatusCode: http.StatusRequestEntityTooLarge,
		}
	}
	defer r.MultipartForm.RemoveAll()

	if payload := r.FormValue("json"); payload != "" {
		if err := utils.DecodeValidate(strings.NewReader(payload), &body); err != nil {
			return body, nil, err
		}
	}

	var files []domain.File
	for _, fh := range r.MultipartForm.File["attachments"] {
		f, err := fh.Open()
		if err != nil {
			return body, nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return body, nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, domain.File{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Size:     int64(len(data)),
			Data:     bytes.NewReader(data),
		})
	}
	return body, files, nil
}

// Object streams a stored attachment from the local object store.
func (s *Server) Object(w http.ResponseWriter, r *http.Request) {
	objectPath := chi.URLParam(r, "*")
	rc, err := s.opts.Objects.Read(objectPath)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(objectPath)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Debug("object copy interrupted", "path", objectPath, "error", err)
	}
}
