package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itchan-dev/pairchat/shared/config"
)

func TestNew(t *testing.T) {
	t.Run("requires endpoint and bucket", func(t *testing.T) {
		_, err := New(config.S3{Endpoint: "localhost:9000"}, "k", "s")
		assert.Error(t, err)
	})

	t.Run("path style url by default", func(t *testing.T) {
		s, err := New(config.S3{Endpoint: "localhost:9000", Bucket: "chat"}, "k", "s")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9000/chat/m1/17-cat.png", s.PublicURL("m1/17-cat.png"))
	})

	t.Run("tls", func(t *testing.T) {
		s, err := New(config.S3{Endpoint: "s3.example.com", Bucket: "chat", UseSSL: true}, "k", "s")
		require.NoError(t, err)
		assert.Equal(t, "https://s3.example.com/chat/a", s.PublicURL("/a"))
	})

	t.Run("configured public url", func(t *testing.T) {
		s, err := New(config.S3{Endpoint: "minio:9000", Bucket: "chat", PublicURL: "https://cdn.example.com/"}, "k", "s")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/m1/a%20b.png", s.PublicURL("m1/a b.png"))
	})
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"m1/1-cat.png", "m1/1-cat.png", false},
		{"/m1/1-cat.png", "m1/1-cat.png", false},
		{"m1//x.png", "m1/x.png", false},
		{"", "", true},
		{"../etc/passwd", "", true},
		{`m1\x.png`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := objectKey(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
