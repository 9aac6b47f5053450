package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/config"
	"github.com/xenn00/syncflow/internal/auth"
	"github.com/xenn00/syncflow/internal/dispatch"
	"github.com/xenn00/syncflow/internal/entity"
	"github.com/xenn00/syncflow/internal/membership"
	"github.com/xenn00/syncflow/internal/presence"
	"github.com/xenn00/syncflow/internal/reconcile"
	"github.com/xenn00/syncflow/internal/session"
	"github.com/xenn00/syncflow/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appState, err := state.InitAppState(ctx, stop)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application state")
	}
	defer appState.Close()

	authenticator, err := auth.NewLocalAuthenticator(config.Conf.App.StateDir, appState.SessionSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize authenticator")
	}
	identity := signIn(ctx, authenticator)

	deviceID, err := authenticator.DeviceID()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve device identity")
	}

	sess := session.New(
		appState.Store,
		reconcile.New(appState.Store, identity.ID, identity.DisplayName, false),
		presence.NewManager(appState.Store, config.Conf.SYNC.HeartbeatInterval, config.Conf.SYNC.StaleThreshold),
		membership.NewStore(appState.Store),
		dispatch.New(appState.Store, appState.Blobs, config.Conf.SYNC.MediaCeilingBytes),
		session.Config{
			Identity:      identity,
			DeviceID:      deviceID,
			DeviceClass:   deviceClass(config.Conf.App.DeviceName),
			SuperAdminID:  config.Conf.SYNC.SuperAdminID,
			SweepInterval: config.Conf.SYNC.StaleThreshold,
		},
	)

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("session stopped")
		}
		stop()
	}()

	go renderViews(sess)
	go readCommands(ctx, sess, stop)

	<-ctx.Done()
	log.Info().Msg("Shutdown initiated...")
	select {
	case <-sessionDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("session did not stop in time")
	}
}

func signIn(ctx context.Context, authenticator *auth.LocalAuthenticator) auth.Identity {
	identity, err := authenticator.RestoreSession(ctx)
	if err == nil {
		return identity
	}
	if !errors.Is(err, auth.ErrNoSession) {
		log.Fatal().Err(err).Msg("failed to restore session")
	}

	if config.Conf.App.UserID == "" || config.Conf.App.UserName == "" {
		log.Fatal().Msg("no persisted session: set SYNCFLOW_APP_USER_ID and SYNCFLOW_APP_USER_NAME to sign in")
	}
	identity = auth.Identity{
		ID:          config.Conf.App.UserID,
		DisplayName: config.Conf.App.UserName,
		AvatarURL:   config.Conf.App.AvatarURL,
	}
	if err := authenticator.Login(ctx, identity); err != nil {
		log.Fatal().Err(err).Msg("sign-in failed")
	}
	return identity
}

func renderViews(sess *session.Session) {
	for view := range sess.Views() {
		for _, item := range view.Notifications {
			log.Info().Str("from", item.Sender).Str("kind", string(item.Type)).
				Str("content", item.Content).Msg("new shared item")
		}
		log.Debug().
			Stringer("status", view.Status).
			Stringer("tier", view.Tier).
			Str("room", view.Stream.RoomID).
			Int("items", len(view.Items)).
			Int("devices", len(view.Devices)).
			Msg("view updated")
	}
}

// readCommands serves a minimal line protocol on stdin. The engine is the
// product; this surface exists to drive it by hand.
func readCommands(ctx context.Context, sess *session.Session, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var err error
		switch {
		case line == "":
			continue
		case line == "/quit":
			stop()
			return
		case line == "/global":
			err = sess.OpenGlobal(ctx)
		case strings.HasPrefix(line, "/room "):
			err = sess.OpenRoom(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/room ")))
		case strings.HasPrefix(line, "/clear"):
			err = sess.ClearStream(ctx)
		default:
			_, err = sess.Share(ctx, dispatch.Request{Kind: entity.ContentText, Text: line})
		}
		if err != nil {
			log.Error().Err(err).Str("input", line).Msg("command failed")
		}
	}
}

func deviceClass(deviceName string) entity.DeviceClass {
	switch strings.ToLower(deviceName) {
	case "mobile":
		return entity.DeviceMobile
	case "laptop":
		return entity.DeviceLaptop
	case "desktop":
		return entity.DeviceDesktop
	default:
		return entity.DeviceUser
	}
}
