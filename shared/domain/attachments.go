package domain

import (
	"io"
	"strings"
)

// Attachment is an uploaded file referenced by a message.
type Attachment struct {
	Name        string `json:"name" validate:"required"`
	MimeType    string `json:"type"`
	ByteSize    int64  `json:"size" validate:"gte=0"`
	URL         string `json:"url" validate:"required"`
	StoragePath string `json:"path" validate:"required"`
}

func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// File is a local file handle offered to the composer.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Data     io.ReadSeeker
}

// PendingAttachment is staged in the composer until send, cancel, or removal.
// It is never persisted.
type PendingAttachment struct {
	Id      string
	File    File
	Preview []byte // PNG thumbnail, nil when the image could not be decoded
}
