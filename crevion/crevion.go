package crevion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"

	defaultLogWriter io.Writer = os.Stderr

	settingsRefreshTimeout = 30 * time.Second
	lookupCacheTTL         = time.Minute
)

// Crevion is the bot: the Discord session, the admin API and the
// components behind the commands.
type Crevion struct {
	config *Config

	db      *gorm.DB
	writeDB DBI

	logger     *slog.Logger
	logHandler slog.Handler

	discord *Discord
	api     *API

	perms     *permissions.Service
	permStore permissions.Store
	notifier  DBNotifier

	ai         *AIAssistant
	challenges *ChallengeScheduler
	line       *LineFetcher
	removeBG   *BackgroundRemover

	// lookups caches auto-reply and auto-line lookups made on every
	// message. Entries are deleted when the underlying rows change.
	lookups *cache.Cache

	commands map[string]*botCommand

	settings   *BotSettings
	settingsMu sync.RWMutex

	// signalStop stops Run, e.g. from `/api/quit`
	signalStop chan struct{}

	// signalReady receives a value once Run has connected to Discord and
	// registered commands
	signalReady chan struct{}

	triggerSettingsRefreshCh chan struct{}

	runMu     sync.Mutex
	runtimeWG *sync.WaitGroup
	startedAt time.Time

	// getInteractionHandlerFunc returns the handler used to respond to an
	// interaction. Tests replace it to capture responses.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

func newComponentLogger(name string, level slog.Leveler) *slog.Logger {
	return slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     level,
				AddSource: true,
			},
		),
	).With(loggerNameKey, name)
}

// New returns a bot for config. Nothing connects until Run is called.
func New(config *Config) (*Crevion, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	defaults := DefaultBotSettings()
	c := &Crevion{
		config:                   config,
		signalStop:               make(chan struct{}, 1),
		signalReady:              make(chan struct{}, 1),
		triggerSettingsRefreshCh: make(chan struct{}, 1),
		runtimeWG:                &sync.WaitGroup{},
		commands:                 newCommandRegistry(),
		settings:                 &defaults,
		lookups:                  cache.New(lookupCacheTTL, 5*lookupCacheTTL),
	}

	c.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     c.config.LogLevel,
			AddSource: true,
		},
	)
	c.logger = slog.New(c.logHandler)
	slog.SetDefault(c.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     c.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		),
	)

	c.config.Discord.httpClient = c.config.HTTPClient
	disc := newDiscord(c.config.Discord)
	disc.logger = newComponentLogger("discord", c.config.Discord.LogLevel)
	disc.c = c
	c.discord = disc

	c.ai = newAIAssistant(
		c.config.AI,
		c.config.HTTPClient,
		newComponentLogger("ai", c.config.AI.LogLevel),
	)
	c.line = newLineFetcher(c.config.Line, c.config.HTTPClient)
	c.removeBG = newBackgroundRemover(c.config.RemoveBG, c.config.HTTPClient)
	c.challenges = newChallengeScheduler(c, c.config.Challenge, c.config.HTTPClient)

	api, err := newAPI(c, c.config.API)
	errs = append(errs, err)
	c.api = api

	return c, errors.Join(errs...)
}

func (c *Crevion) ValidateConfig() error {
	return structValidator.Struct(c.config)
}

// Settings returns a copy of the current bot settings.
func (c *Crevion) Settings() BotSettings {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return *c.settings
}

// Permissions returns the permission service. It's nil until Run has
// initialized the database.
func (c *Crevion) Permissions() *permissions.Service {
	return c.perms
}

func (c *Crevion) setSettings(s *BotSettings) {
	c.settingsMu.Lock()
	c.settings = s
	c.settingsMu.Unlock()
	c.setRuntimeLevels(*s)
}

// setRuntimeLevels applies the log levels stored in the settings, leaving
// levels that aren't set at their configured value.
func (c *Crevion) setRuntimeLevels(s BotSettings) {
	s.LogLevel.Apply(c.config.LogLevel)
	s.DiscordLogLevel.Apply(c.config.Discord.LogLevel)
	s.DiscordGoLogLevel.Apply(c.config.Discord.DiscordGoLogLevel)
	s.DatabaseLogLevel.Apply(c.config.DatabaseLogLevel)
	s.APILogLevel.Apply(c.config.API.LogLevel)
	s.AILogLevel.Apply(c.config.AI.LogLevel)
}

// refreshSettings reloads settings from the database and updates the
// gateway presence if it changed.
func (c *Crevion) refreshSettings(ctx context.Context) error {
	s, err := LoadBotSettings(ctx, c.db)
	if err != nil {
		c.logger.ErrorContext(ctx, "error refreshing settings", tint.Err(err))
		return err
	}
	c.applySettings(ctx, s)
	c.logger.InfoContext(ctx, "refreshed settings")
	return nil
}

// applySettings replaces the current settings, updating the presence when
// the status or activity changed.
func (c *Crevion) applySettings(ctx context.Context, s *BotSettings) {
	previous := c.Settings()
	c.setSettings(s)
	if c.discord.session == nil || !c.discord.connected.Load() {
		return
	}
	if previous.Status != s.Status || previous.ActivityText != s.ActivityText {
		if err := c.discord.session.UpdateStatusComplex(s.presence()); err != nil {
			c.logger.ErrorContext(ctx, "error updating presence", tint.Err(err))
		}
	}
}

// requestSettingsRefresh queues a settings refresh. If one is already
// pending, the request is merged into it.
func (c *Crevion) requestSettingsRefresh() {
	select {
	case c.triggerSettingsRefreshCh <- struct{}{}:
	default:
	}
}

// watchSettings refreshes settings whenever a refresh is triggered, until
// ctx is done.
func (c *Crevion) watchSettings(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.triggerSettingsRefreshCh:
			refreshCtx, cancel := context.WithTimeout(ctx, settingsRefreshTimeout)
			_ = c.refreshSettings(refreshCtx)
			cancel()
		}
	}
}

// UpdateSettings validates and persists u, then asks every instance to
// reload settings.
func (c *Crevion) UpdateSettings(ctx context.Context, u BotSettingsUpdate) (*BotSettings, error) {
	s, err := updateBotSettings(ctx, c.writeDB, u)
	if err != nil {
		return nil, err
	}
	c.applySettings(ctx, s)
	if c.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(ctx, dbNotifierSendTimeout)
		defer cancel()
		c.notifier.ReloadSettings(notifyCtx)
	}
	return s, nil
}

// permissionsChanged announces a successful permission mutation.
func (c *Crevion) permissionsChanged(ctx context.Context, operation string) {
	if c.notifier == nil {
		return
	}
	c.notifier.PermissionsChanged(ctx, operation)
}

// initDB opens and migrates the database, seeds the permission record and
// loads the bot settings.
func (c *Crevion) initDB(ctx context.Context) error {
	if c.db == nil {
		handler := tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     c.config.DatabaseLogLevel,
				AddSource: true,
			},
		)
		db, err := getDB(
			c.config.DatabaseType,
			c.config.Database,
			newGORMLogger(handler, c.config.DatabaseSlowThreshold),
		)
		if err != nil {
			return err
		}
		c.db = db
	}
	if err := migrate(ctx, c.db, c.config.DatabaseType); err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}
	c.writeDB = NewDatabase(c.db, c.logger, c.config.DatabaseType == dbTypePostgres)

	if c.permStore == nil {
		store, err := newPermissionStore(ctx, c.db, c.config.Permissions)
		if err != nil {
			return err
		}
		c.permStore = store
	}
	c.perms = newPermissionService(c.permStore, c.config.Permissions)

	settings, err := LoadBotSettings(ctx, c.db)
	if err != nil {
		return err
	}
	if validationErr := structValidator.Struct(settings); validationErr != nil {
		return fmt.Errorf("invalid bot settings: %w", validationErr)
	}
	c.setSettings(settings)
	return nil
}

// newPermissionStore returns the database permission store, creating the
// record from the configured owners and defaults if it doesn't exist.
func newPermissionStore(
	ctx context.Context,
	db *gorm.DB,
	cfg *PermissionsConfig,
) (*permissions.GormStore, error) {
	store := permissions.NewGormStore(
		db,
		permissions.DefaultRecordName,
		permissions.NewConfig(cfg.Owners, cfg.Defaults()),
	)
	store.SetTimeout(cfg.Timeout)
	if _, err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("error initializing permissions: %w", err)
	}
	return store, nil
}

// OpenPermissions returns a permission service backed by db, for use
// outside a running bot.
func OpenPermissions(
	ctx context.Context,
	db *gorm.DB,
	cfg *PermissionsConfig,
) (*permissions.Service, error) {
	store, err := newPermissionStore(ctx, db, cfg)
	if err != nil {
		return nil, err
	}
	return newPermissionService(store, cfg), nil
}

// newPermissionService returns a service over store using the defaults,
// timeout and log level from cfg.
func newPermissionService(store permissions.Store, cfg *PermissionsConfig) *permissions.Service {
	return permissions.NewService(
		store,
		permissions.WithDefaults(cfg.Defaults()),
		permissions.WithTimeout(cfg.Timeout),
		permissions.WithLogger(newComponentLogger("permissions", cfg.LogLevel)),
	)
}

// Run connects to Discord, starts the admin API and the challenge
// schedule, and blocks until ctx is canceled or a stop is requested.
func (c *Crevion) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.startedAt = time.Now()
	logger := c.logger

	if err := c.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", c.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startCancel()

	if err := c.initDB(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return fmt.Errorf("error initializing database: %w", err)
	}

	notifier, err := newDBNotifier(c)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	c.notifier = notifier

	g, gctx := errgroup.WithContext(ctx)
	fail := func(err error) error {
		cancel()
		return errors.Join(err, c.shutdown(ctx), g.Wait())
	}

	if c.config.API.Listen != "" {
		g.Go(
			func() error {
				if serveErr := c.api.Serve(gctx); serveErr != nil &&
					!errors.Is(serveErr, http.ErrServerClosed) {
					logger.ErrorContext(gctx, "error serving api", tint.Err(serveErr))
					return serveErr
				}
				return nil
			},
		)
	}

	if err = c.initDiscordSession(gctx); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return fail(err)
	}

	logger.InfoContext(ctx, "connecting to discord")
	if err = c.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(err))
		return fail(fmt.Errorf("error connecting to discord: %w", err))
	}

	if _, err = c.RegisterSlashCommands(discordgo.WithContext(startCtx)); err != nil {
		return fail(err)
	}

	if err = c.challenges.Start(gctx); err != nil {
		logger.ErrorContext(ctx, "error starting challenge schedule", tint.Err(err))
		return fail(err)
	}

	g.Go(func() error { return c.watchSettings(gctx) })

	for _, channel := range c.notifier.Channels() {
		g.Go(
			func() error {
				if listenErr := c.notifier.Listen(gctx, channel); listenErr != nil {
					logger.ErrorContext(
						gctx, "error listening for notifications",
						"channel", channel, tint.Err(listenErr),
					)
				}
				return nil
			},
		)
	}

	select {
	case c.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "ready")

	<-gctx.Done()

	shutdownErr := c.shutdown(ctx)
	return errors.Join(shutdownErr, g.Wait())
}

// initDiscordSession creates the session if needed and (re)adds the
// gateway handlers.
func (c *Crevion) initDiscordSession(ctx context.Context) error {
	if c.discord.session == nil {
		disc, err := c.discord.newSession()
		if err != nil {
			return err
		}
		c.discord.session = disc
	}

	for _, h := range c.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	if c.getInteractionHandlerFunc == nil {
		c.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     c.discord.session,
				interaction: i,
				logger: c.discord.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}

	c.discord.discordgoRemoveHandlerFuncs = []func(){
		c.discord.session.AddHandler(c.discord.handlerConnect()),
		c.discord.session.AddHandler(c.discord.handlerDisconnect()),
		c.discord.session.AddHandler(c.discord.handlerReady()),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := c.getInteractionHandlerFunc(ctx, i)
				c.runtimeWG.Add(1)
				go func() {
					defer c.runtimeWG.Done()
					c.handleInteraction(ctx, handler)
				}()
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				c.runtimeWG.Add(1)
				go func() {
					defer c.runtimeWG.Done()
					c.handleMessage(ctx, m)
				}()
			},
		),
	}
	return nil
}

// shutdown stops the scheduler, the API and the Discord session, then
// waits for in-flight handlers until the shutdown timeout.
func (c *Crevion) shutdown(ctx context.Context) error {
	c.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()

	closeCtx, closeCancel := context.WithTimeout(
		context.Background(),
		c.config.ShutdownTimeout,
	)
	defer closeCancel()

	stopWG := &sync.WaitGroup{}

	if c.challenges != nil {
		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			select {
			case <-c.challenges.Stop().Done():
			case <-closeCtx.Done():
			}
		}()
	}

	if c.api != nil && c.api.httpServer != nil {
		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			c.logger.InfoContext(ctx, "stopping http server")
			_ = c.api.httpServer.Shutdown(closeCtx)
		}()
	}

	if c.discord.session != nil {
		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			c.logger.InfoContext(ctx, "closing discord session")
			_ = c.discord.session.Close()
			for _, h := range c.discord.discordgoRemoveHandlerFuncs {
				h()
			}
			c.discord.discordgoRemoveHandlerFuncs = nil
		}()
	}

	done := make(chan struct{})
	go func() {
		stopWG.Wait()
		c.runtimeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.InfoContext(
			ctx, "shutdown complete",
			"shutdown_duration", time.Since(shutdownStart),
		)
		return nil
	case <-closeCtx.Done():
		c.logger.Warn("handlers did not stop in time, forcing close")
		if c.api != nil && c.api.httpServer != nil {
			_ = c.api.httpServer.Close()
		}
		return errors.New("shutdown timed out")
	}
}

// Stop asks Run to return.
func (c *Crevion) Stop() {
	select {
	case c.signalStop <- struct{}{}:
	default:
	}
}

func (*Crevion) handleRecover(ctx context.Context, rc any) {
	logger := loggerFrom(ctx, nil)
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(
			ctx, "recovered from panic",
			tint.Err(errors.New(v)), "stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
