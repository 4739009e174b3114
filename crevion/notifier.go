package crevion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
)

const (
	postgresNotifyChannelSettings    = "crevion_reload_settings"
	postgresNotifyChannelPermissions = "crevion_permissions_changed"
	postgresNotifyChannelStop        = "crevion_stop"
)

var (
	dbNotifierSendTimeout = 15 * time.Second
	dbNotifierRetryDelay  = 5 * time.Second
)

// DBNotifier tells other bot instances sharing the database that state
// changed. With sqlite there are no other instances, so notifications are
// delivered in-process.
type DBNotifier interface {
	// ID identifies this instance, so it can ignore its own notifications
	ID() string

	// Channels lists the channels Listen should be called with
	Channels() []string

	// ReloadSettings asks every instance to reload [BotSettings]
	ReloadSettings(ctx context.Context) bool

	// PermissionsChanged announces a permission mutation. Permissions are
	// never cached, so receivers only log it.
	PermissionsChanged(ctx context.Context, operation string) bool

	// Stop asks every instance to shut down
	Stop(ctx context.Context) bool

	// Listen blocks, handling notifications on channel until ctx is done
	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(c *Crevion) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := c.logger.With(loggerNameKey, "db_notifier")
	switch c.config.DatabaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{logger: log, c: c, id: notifyID}, nil
	case dbTypePostgres:
		return &postgresNotifier{logger: log, c: c, id: notifyID}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

type sqliteNotifier struct {
	logger *slog.Logger
	c      *Crevion
	id     string
}

func (s *sqliteNotifier) ID() string {
	return s.id
}

func (*sqliteNotifier) Channels() []string {
	return nil
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (s *sqliteNotifier) ReloadSettings(ctx context.Context) bool {
	s.logger.InfoContext(ctx, "settings reload requested")
	s.c.requestSettingsRefresh()
	return true
}

func (s *sqliteNotifier) PermissionsChanged(ctx context.Context, operation string) bool {
	s.logger.DebugContext(ctx, "permissions changed", "operation", operation)
	return true
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.InfoContext(ctx, "notifying stop signal")
	select {
	case s.c.signalStop <- struct{}{}:
		return true
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
}

type postgresNotifier struct {
	logger *slog.Logger
	c      *Crevion
	id     string
}

func (p *postgresNotifier) ID() string {
	return p.id
}

func (*postgresNotifier) Channels() []string {
	return []string{
		postgresNotifyChannelSettings,
		postgresNotifyChannelPermissions,
		postgresNotifyChannelStop,
	}
}

func (p *postgresNotifier) notify(ctx context.Context, channel, payload string) bool {
	err := p.c.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		channel,
		payload,
	).Error
	if err != nil {
		p.logger.ErrorContext(
			ctx, "error sending NOTIFY",
			"channel", channel, tint.Err(err),
		)
		return false
	}
	p.logger.InfoContext(ctx, "sent notification", "channel", channel, "pg_notify_id", p.id)
	return true
}

// ReloadSettings refreshes this instance directly and notifies the others.
func (p *postgresNotifier) ReloadSettings(ctx context.Context) bool {
	p.c.requestSettingsRefresh()
	return p.notify(ctx, postgresNotifyChannelSettings, p.id)
}

func (p *postgresNotifier) PermissionsChanged(ctx context.Context, operation string) bool {
	return p.notify(ctx, postgresNotifyChannelPermissions, p.id+":"+operation)
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	return p.notify(ctx, postgresNotifyChannelStop, p.id)
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "starting db listener")

	config, err := pgxpool.ParseConfig(p.c.config.Database)
	if err != nil {
		return fmt.Errorf("error parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("error creating connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("error acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("error setting up listener: %w", err)
	}

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(dbNotifierRetryDelay):
			}
			continue
		}
		if strings.HasPrefix(notification.Payload, p.id) {
			logger.Debug("received notification from self, ignoring")
			continue
		}

		switch notification.Channel {
		case postgresNotifyChannelSettings:
			p.c.requestSettingsRefresh()
			logger.InfoContext(ctx, "settings refresh triggered by notification")
		case postgresNotifyChannelPermissions:
			logger.InfoContext(ctx, "permissions changed on another instance", "payload", notification.Payload)
		case postgresNotifyChannelStop:
			select {
			case p.c.signalStop <- struct{}{}:
				logger.InfoContext(ctx, "forwarded stop signal")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out forwarding stop signal")
			}
		default:
			logger.Warn("received unknown notification", "notify_channel", notification.Channel)
		}
	}
	return nil
}
