package cli

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbox-live/qbox/config"
	"github.com/qbox-live/qbox/internal/api"
	"github.com/qbox-live/qbox/internal/dispatch"
	"github.com/qbox-live/qbox/internal/identity"
	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/internal/realtime"
	"github.com/qbox-live/qbox/internal/session"
	"github.com/qbox-live/qbox/internal/snapshot"
	"github.com/qbox-live/qbox/internal/visibility"
	"github.com/qbox-live/qbox/pkg/redis"
)

// app holds what every command needs: the backend client and the identity.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	client *api.Client
	ids    *identity.Provider
	closer []func()
}

func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg := *opts.Config
	if opts.APIURL != "" {
		cfg.API.BaseURL = strings.TrimRight(opts.APIURL, "/")
		cfg.API.WSURL = config.WebsocketURL(cfg.API.BaseURL)
	}
	if opts.Token != "" {
		cfg.API.Token = opts.Token
	}

	a := &app{cfg: &cfg, logger: opts.logger()}
	a.client = api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, a.logger)
	a.client.SetToken(cfg.API.Token)

	var store identity.Store
	switch cfg.Identity.Store {
	case config.StoreRedis:
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, a.logger)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "identity store", err)
		}
		a.closer = append(a.closer, func() { _ = rdb.Close() })
		store = identity.NewRedisStore(rdb.Client)
	case config.StoreMemory:
		store = opts.memoryStore()
	default:
		store = identity.NewFileStore(cfg.Identity.Path)
	}
	a.ids = identity.NewProvider(store, cfg.Identity.DeviceID, a.logger)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		a.closer[i]()
	}
}

// role is instructor whenever the client holds a room token.
func (a *app) role() models.Role {
	if a.client.Token() != "" {
		return models.RoleInstructor
	}
	return models.RoleParticipant
}

// roomSession is a live, synchronized feed of one room.
type roomSession struct {
	session    *session.Session
	dispatcher *dispatch.Dispatcher
	channel    *realtime.Channel
	stop       func()
}

// openRoom joins the room by code, connects the event channel, starts the
// session and loads the first snapshot.
func (a *app) openRoom(ctx context.Context, code string) (*roomSession, error) {
	if strings.TrimSpace(code) == "" {
		return nil, NewExitError(ExitCommandError, "no room: pass --room CODE")
	}
	room, err := a.client.JoinRoom(ctx, code)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "join room", err)
	}
	role := a.role()
	tag := a.ids.GetOrCreateTag(ctx, role)

	ch := realtime.NewChannel(realtime.ChannelOptions{
		URL:         a.cfg.API.WSURL,
		Token:       a.client.Token,
		MinDelay:    a.cfg.Realtime.MinDelay,
		MaxDelay:    a.cfg.Realtime.MaxDelay,
		MaxAttempts: a.cfg.Realtime.MaxAttempts,
	}, a.logger)
	s := session.New(session.Options{
		Room:              room,
		Role:              role,
		ViewerTag:         tag,
		ResyncOnReconnect: a.cfg.Realtime.ResyncOnReconnect,
	}, ch, snapshot.NewLoader(a.client, a.logger), a.logger)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(runCtx); err != nil {
			a.logger.Error("session stopped", zap.Error(err))
		}
	}()
	rs := &roomSession{
		session:    s,
		dispatcher: dispatch.New(a.client, s, a.ids, ch, a.logger),
		channel:    ch,
		stop: func() {
			ch.Dispose()
			cancel()
			<-done
		},
	}

	if err := ch.Connect(ctx); err != nil {
		rs.stop()
		return nil, WrapExitError(ExitCommandError, "connect to event stream", err)
	}
	if err := s.Reload(ctx); err != nil {
		rs.stop()
		return nil, WrapExitError(ExitCommandError, "load questions", err)
	}
	a.logger.Debug("room opened", zap.String("room", room.Code), zap.String("role", string(role)))
	return rs, nil
}

func (rs *roomSession) Close() { rs.stop() }

// view collects one rendering of the feed under filter.
func (rs *roomSession) view(filter visibility.Filter) (FeedView, error) {
	s := rs.session
	room, err := s.Room()
	if err != nil {
		return FeedView{}, err
	}
	tag, err := s.ViewerTag()
	if err != nil {
		return FeedView{}, err
	}
	counts, err := s.Counts()
	if err != nil {
		return FeedView{}, err
	}
	qs, err := s.View(filter)
	if err != nil {
		return FeedView{}, fmt.Errorf("view %s: %w", filter, err)
	}
	return FeedView{Room: room, Role: s.Role(), ViewerTag: tag, Filter: filter, Counts: counts, Questions: qs}, nil
}

func newLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
