package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/itchan-dev/pairchat/client/internal/apiclient"
	"github.com/itchan-dev/pairchat/client/internal/composer"
	"github.com/itchan-dev/pairchat/client/internal/presence/redis"
	"github.com/itchan-dev/pairchat/client/internal/realtime"
	"github.com/itchan-dev/pairchat/client/internal/session"
	"github.com/itchan-dev/pairchat/client/internal/status"
	"github.com/itchan-dev/pairchat/client/internal/storage/fs"
	"github.com/itchan-dev/pairchat/client/internal/storage/pg"
	"github.com/itchan-dev/pairchat/client/internal/storage/s3"
	"github.com/itchan-dev/pairchat/shared/config"
	"github.com/itchan-dev/pairchat/shared/logger"
)

// Dependencies struct to hold all initialized adapters.
type Dependencies struct {
	Session session.Deps
	// Objects is set when attachments live on the local disk and the status server
	// should serve them.
	Objects status.ObjectReader

	closers []io.Closer
}

// Cleanup closes every connection opened by SetupDependencies.
func (d *Dependencies) Cleanup() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i].Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// SetupDependencies initializes the adapters selected by cfg. Presence is optional: an
// unreachable redis leaves the chat usable without indicators.
func SetupDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	log := logger.For("setup")
	deps := &Dependencies{}

	var rest *apiclient.APIClient
	if cfg.Public.Backend == "rest" || cfg.Public.Objects == "rest" {
		rest = apiclient.New(cfg.Public.Rest.BaseURL, cfg.Private.RestAPIKey, cfg.Public.Rest.Bucket)
	}

	var storage *pg.Storage
	if cfg.Public.Backend == "postgres" || cfg.Public.Feed == "postgres" {
		var err error
		storage, err = pg.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		deps.closers = append(deps.closers, closerFunc(storage.Cleanup))
	}

	switch cfg.Public.Backend {
	case "postgres":
		deps.Session.Backend = storage
		deps.Session.Store = storage
		deps.Session.Watermarks = storage
	case "rest":
		deps.Session.Backend = rest
		deps.Session.Store = rest
		deps.Session.Watermarks = rest
	default:
		deps.Cleanup()
		return nil, fmt.Errorf("unknown backend %q", cfg.Public.Backend)
	}

	switch cfg.Public.Feed {
	case "postgres":
		deps.Session.Feed = storage.Feed()
	case "websocket":
		deps.Session.Feed = realtime.New(cfg.Public.Realtime.URL, cfg.Private.RestAPIKey)
	default:
		deps.Cleanup()
		return nil, fmt.Errorf("unknown feed %q", cfg.Public.Feed)
	}

	objects, reader, err := ObjectStore(cfg, rest)
	if err != nil {
		deps.Cleanup()
		return nil, err
	}
	deps.Session.Objects = objects
	deps.Objects = reader

	client, err := redis.Connect(ctx, cfg.Public.Redis.Addr, cfg.Private.RedisPassword, cfg.Public.Redis.DB)
	if err != nil {
		log.Warn("presence disabled", "error", err)
	} else {
		deps.closers = append(deps.closers, client)
		deps.Session.Presence = redis.New(client, cfg.Public.Redis.Channel, cfg.Public.Timings.PresenceTTL)
	}

	log.Info("adapters ready",
		slog.String("backend", cfg.Public.Backend),
		slog.String("feed", cfg.Public.Feed),
		slog.String("objects", cfg.Public.Objects),
		slog.Bool("presence", deps.Session.Presence != nil))
	return deps, nil
}

// ObjectStore builds the attachment store. The reader is non-nil only for the local store.
func ObjectStore(cfg *config.Config, rest *apiclient.APIClient) (composer.ObjectStore, status.ObjectReader, error) {
	switch cfg.Public.Objects {
	case "fs":
		store, err := fs.New(cfg.Public.Fs.Root, cfg.Public.Fs.PublicURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "s3":
		store, err := s3.New(cfg.Public.S3, cfg.Private.S3AccessKey, cfg.Private.S3SecretKey)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "rest":
		if rest == nil {
			rest = apiclient.New(cfg.Public.Rest.BaseURL, cfg.Private.RestAPIKey, cfg.Public.Rest.Bucket)
		}
		return rest, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown object store %q", cfg.Public.Objects)
	}
}
