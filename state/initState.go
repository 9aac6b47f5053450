package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenn00/syncflow/config"
	"github.com/xenn00/syncflow/internal/blob"
	"github.com/xenn00/syncflow/internal/relay"
	"github.com/xenn00/syncflow/internal/store"
)

// AppState holds every backend the client runtime needs: the realtime store
// carrying all shared state, and the blob store carrying media bytes.
type AppState struct {
	Ctx    context.Context
	Cancel context.CancelFunc
	Redis  *redis.Client
	Mongo  *mongo.Client

	Store store.RealtimeStore
	Blobs blob.Store

	SessionSecret []byte
}

// InitAppState wires the configured backends. Redis is the primary realtime
// store; with no redis configured the client falls back to a relay connection,
// and with neither it runs fully in-process (single-client mode). Media goes
// to GridFS when mongo is configured, otherwise stays in memory.
func InitAppState(ctx context.Context, cancel context.CancelFunc) (*AppState, error) {
	state := &AppState{Ctx: ctx, Cancel: cancel}

	secret, err := InitSecret(config.Conf.App.StateDir, config.Conf.SYNC.SessionSecret)
	if err != nil {
		return nil, err
	}
	state.SessionSecret = secret

	switch {
	case config.Conf.DATABASE.Redis.Addr != "":
		rdb, err := InitRedis(config.Conf.DATABASE.Redis.Addr, config.Conf.DATABASE.Redis.Password, 0)
		if err != nil {
			return nil, err
		}
		state.Redis = rdb
		state.Store = store.NewRedisStore(rdb)

	case config.Conf.RELAY.URL != "":
		ws, err := relay.Dial(ctx, config.Conf.RELAY.URL)
		if err != nil {
			return nil, err
		}
		state.Store = ws
		log.Info().Str("url", config.Conf.RELAY.URL).Msg("connected to relay")

	default:
		state.Store = store.NewMemoryStore()
		log.Warn().Msg("no realtime backend configured, running in-process only")
	}

	if config.Conf.DATABASE.Mongo.Url != "" {
		mongoClient, err := InitMongo(ctx, config.Conf.DATABASE.Mongo.Url)
		if err != nil {
			state.closePartial()
			return nil, err
		}
		state.Mongo = mongoClient
		blobs, err := blob.NewGridFSStore(mongoClient.Database(config.Conf.App.Name))
		if err != nil {
			state.closePartial()
			return nil, fmt.Errorf("init blob store: %w", err)
		}
		state.Blobs = blobs
	} else {
		state.Blobs = blob.NewMemoryStore()
	}

	return state, nil
}

func (a *AppState) closePartial() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close realtime store")
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

func (a *AppState) Close() {
	if a.Store != nil {
		log.Info().Msg("Closing realtime store...")
		if err := a.Store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close realtime store")
		}
	}

	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		log.Info().Msg("Closing MongoDB client...")
		defer cancel()
		if err := a.Mongo.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("failed to disconnect MongoDB client")
		}
	}

	if a.Redis != nil {
		log.Info().Msg("Closing Redis client...")
		if err := a.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Redis client")
		}
	}
}
