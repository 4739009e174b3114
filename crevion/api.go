package crevion

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

const (
	pprofPrefix               = "/debug"
	apiPrefix                 = "/api"
	apiPathLogin              = "/login"
	apiPathLogout             = "/logout"
	apiPathLoggedIn           = "/logged_in"
	apiPathHealthCheck        = "/healthz"
	apiPathSetup              = "/setup"
	apiPathSetupStatus        = "/setup/status"
	apiPathSettings           = "/settings"
	apiPathStats              = "/stats"
	apiPathPermissions        = "/permissions"
	apiPathPermissionsOwner   = "/permissions/owners/:id"
	apiPathPermissionsRole    = "/permissions/roles/:level/:role"
	apiPathPermissionsUser    = "/permissions/users/:id"
	apiPathPermissionsCommand = "/permissions/commands/:name"
	apiPathPermissionsLine    = "/permissions/line/:role"
	apiPathPermissionsReset   = "/permissions/reset"
	apiPathInteractions       = "/interactions"
	apiPathRegisterCommands   = "/discord/register_commands"
	apiPathReload             = "/reload"
	apiPathQuit               = "/quit"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "crevion"
	sessionVarField  = "username"

	defaultInteractionsLimit = 25
)

var structValidator = validator.New()

//nolint:gochecknoinits // validator tag name must be set before use
func init() {
	structValidator.SetTagName("binding")
}

// API is the admin HTTP API. It manages settings and permissions through
// the same services the Discord commands use.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

func newAPI(c *Crevion, config *APIConfig) (*API, error) {
	logger := newComponentLogger("api", config.LogLevel)

	r := gin.New()
	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:              logger,
	}
	handlers := NewAPIHandlers(c, config, logger)
	api.handlers = handlers
	api.store = handlers.store

	var tlsCfg *tls.Config
	if config.SSL != nil && config.SSL.Cert != "" && config.SSL.Key != "" {
		var err error
		tlsCfg, err = tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	} else if config.Listen != "" {
		logger.Warn("no TLS certificate configured, serving plain HTTP")
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		if config.Development {
			corsConfig.AllowOrigins = []string{"*"}
			corsConfig.AllowCredentials = false
		} else {
			corsConfig.AllowAllOrigins = false
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(api),
		cors.New(corsConfig),
		sessions.Sessions(sessionVarName, handlers.store),
	)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	public := r.Group(apiPrefix)
	public.POST(apiPathLogin, handlers.loginHandler(api.loginRequestLimiter))
	public.POST(apiPathLogout, handlers.logoutHandler)
	public.GET(apiPathHealthCheck, handlers.healthCheck)
	public.GET(apiPathSetupStatus, handlers.setupStatus)
	public.POST(apiPathSetup, handlers.adminSetup)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(c))

	protected.GET(apiPathLoggedIn, handlers.loggedIn)
	protected.GET(apiPathSettings, handlers.getSettings)
	protected.PATCH(apiPathSettings, handlers.updateSettings)
	protected.GET(apiPathStats, handlers.getStats)
	protected.GET(apiPathInteractions, handlers.getInteractions)
	protected.POST(apiPathReload, handlers.reloadSettings)
	protected.POST(apiPathQuit, handlers.botQuit)
	protected.POST(apiPathRegisterCommands, handlers.registerCommands)

	protected.GET(apiPathPermissions, handlers.getPermissions)
	protected.POST(apiPathPermissionsOwner, handlers.addOwner)
	protected.DELETE(apiPathPermissionsOwner, handlers.removeOwner)
	protected.PUT(apiPathPermissionsRole, handlers.setRoleLevel)
	protected.DELETE(apiPathPermissionsRole, handlers.removeRoleLevel)
	protected.PUT(apiPathPermissionsUser, handlers.setUserOverride)
	protected.DELETE(apiPathPermissionsUser, handlers.removeUserOverride)
	protected.PUT(apiPathPermissionsCommand, handlers.setCommandOverride)
	protected.DELETE(apiPathPermissionsCommand, handlers.removeCommandOverride)
	protected.PUT(apiPathPermissionsLine, handlers.addLineRole)
	protected.DELETE(apiPathPermissionsLine, handlers.removeLineRole)
	protected.POST(apiPathPermissionsReset, handlers.resetPermissions)

	r.NoRoute(
		func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "not found"})
		},
	)

	return api, nil
}

// Serve listens on the configured address and serves until ctx is done.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.Serve(a.listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return <-errCh
	}
}

// RequestMetrics returns a copy of the per-route request counts.
func (a *API) RequestMetrics() map[string]int {
	a.requestMetricsMu.Lock()
	defer a.requestMetricsMu.Unlock()
	rv := make(map[string]int, len(a.requestMetrics))
	for k, v := range a.requestMetrics {
		rv[k] = v
	}
	return rv
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers holds the handlers for the admin API.
type APIHandlers struct {
	c      *Crevion
	config *APIConfig
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers returns handlers with a cookie store keyed by the
// configured secret, or a random key when there is none.
func NewAPIHandlers(c *Crevion, config *APIConfig, logger *slog.Logger) *APIHandlers {
	var secretKey []byte
	if config.Secret == "" {
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	} else {
		secretKey = derive64ByteKey(config.Secret)
	}

	store := NewCookieStore(secretKey)
	store.Options(sessionOptions(config))
	return &APIHandlers{c: c, config: config, logger: logger, store: store}
}

func sessionOptions(config *APIConfig) sessions.Options {
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteLaxMode
	}
	return sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   !config.Development,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

// pendingSetup reports whether admin credentials still need to be set.
func (h *APIHandlers) pendingSetup() bool {
	s := h.c.Settings()
	return s.AdminUsername == "" || s.AdminPassword == ""
}

func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.pendingSetup()})
}

// adminSetup sets the admin credentials. It's only allowed while none are
// set.
func (h *APIHandlers) adminSetup(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.pendingSetup() {
		c.JSON(http.StatusForbidden, httpError{Error: "forbidden"})
		return
	}

	var payload adminSetupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	settings, err := SetAdminCredentials(c.Request.Context(), h.c.writeDB, payload.Username, payload.Password)
	if err != nil {
		logger.Error("error setting admin credentials", tint.Err(err))
		ginReplyError(c, "error setting admin credentials")
		return
	}
	h.c.applySettings(c.Request.Context(), settings)
	logger.Info("admin credentials set", "username", payload.Username)
	c.JSON(http.StatusCreated, httpReply{Message: "admin credentials set"})
}

// loginHandler checks the credentials against the stored argon2id hash
// and starts a session. Attempts are rate limited across all clients.
func (h *APIHandlers) loginHandler(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		if !limiter.Allow() {
			logger.Warn("login rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
			return
		}

		var login userLogin
		if err := c.ShouldBindJSON(&login); err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}

		settings := h.c.Settings()
		if settings.AdminUsername == "" || settings.AdminPassword == "" {
			logger.Warn("admin credentials not set")
			c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		valid, err := verifyPassword(settings.AdminPassword, login.Password)
		if err != nil {
			logger.Error("error verifying password", tint.Err(err))
			ginReplyError(c, "internal server error")
			return
		}
		if !valid || login.Username != settings.AdminUsername {
			logger.Warn("invalid login attempt", "username", login.Username)
			c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		session := sessions.Default(c)
		session.Set(sessionVarField, login.Username)
		session.Options(sessionOptions(h.config))
		if err = session.Save(); err != nil {
			logger.Error("error saving session", tint.Err(err))
			ginReplyError(c, "internal server error")
			return
		}
		logger.Info("logged in", "username", login.Username)
		c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
	}
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		ginContextLogger(c).Error("error clearing session", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, _ := c.Get(sessionVarField)
	name, _ := username.(string)
	c.JSON(http.StatusOK, loggedInResponse{Username: name})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	rv := healthCheckResponse{
		DiscordGatewayConnected: h.c.discord.connected.Load(),
		NextChallenge:           h.c.challenges.NextRun(),
	}
	if h.c.perms != nil {
		_, err := h.c.perms.Snapshot(c.Request.Context())
		rv.PermissionsAvailable = err == nil
	}
	if !h.c.startedAt.IsZero() {
		rv.Uptime = time.Since(h.c.startedAt).Round(time.Second).String()
	}
	c.JSON(http.StatusOK, rv)
}

func (h *APIHandlers) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.c.Settings())
}

func (h *APIHandlers) updateSettings(c *gin.Context) {
	logger := ginContextLogger(c)
	var update BotSettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	settings, err := h.c.UpdateSettings(c.Request.Context(), update)
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		c.JSON(http.StatusBadRequest, httpError{Error: validationErrs.Error()})
		return
	case err != nil:
		logger.Error("error updating settings", tint.Err(err))
		ginReplyError(c, "error updating settings")
		return
	}
	logger.Info("settings updated", "update", update)
	c.JSON(http.StatusOK, settings)
}

func (h *APIHandlers) getStats(c *gin.Context) {
	s, err := h.c.stats(c.Request.Context())
	if err != nil {
		ginContextLogger(c).Error("error loading stats", tint.Err(err))
		ginReplyError(c, "error loading stats")
		return
	}
	c.JSON(http.StatusOK, statsResponse{botStats: s, Requests: h.c.api.RequestMetrics()})
}

func (h *APIHandlers) reloadSettings(c *gin.Context) {
	if err := h.c.refreshSettings(c.Request.Context()); err != nil {
		ginReplyError(c, "error reloading settings")
		return
	}
	if h.c.notifier != nil {
		h.c.notifier.ReloadSettings(c.Request.Context())
	}
	ginReplyMessage(c, "settings reloaded")
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbNotifierSendTimeout)
	defer cancel()

	if h.c.notifier == nil {
		h.c.Stop()
		ginReplyMessage(c, "quitting")
		return
	}
	if !h.c.notifier.Stop(ctx) {
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "error sending stop signal"})
		return
	}
	ginReplyMessage(c, "quitting")
}

func (h *APIHandlers) registerCommands(c *gin.Context) {
	logger := ginContextLogger(c)
	if h.c.discord.session == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: "discord session not started"})
		return
	}
	created, err := h.c.RegisterSlashCommands()
	if err != nil {
		logger.Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	c.JSON(http.StatusCreated, created)
}

// getInteractions returns recorded interactions, newest first unless
// order=asc.
func (h *APIHandlers) getInteractions(c *gin.Context) {
	var query getInteractionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultInteractionsLimit
	}
	if query.Order == "" {
		query.Order = Descending
	}

	db := h.c.db.WithContext(c.Request.Context()).Model(&InteractionLog{})
	if query.UserID != "" {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.Command != "" {
		db = db.Where("command = ?", query.Command)
	}
	if query.Allowed != nil {
		db = db.Where("allowed = ?", *query.Allowed)
	}

	var logs []InteractionLog
	err := db.Order("created_at " + string(query.Order)).
		Limit(query.Limit).
		Offset(query.Offset).
		Find(&logs).Error
	if err != nil {
		ginContextLogger(c).Error("error fetching interactions", tint.Err(err))
		ginReplyError(c, "error fetching interactions")
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *APIHandlers) getPermissions(c *gin.Context) {
	cfg, err := h.c.perms.Snapshot(c.Request.Context())
	if err != nil {
		permissionErrorReply(c, err)
		return
	}
	commands := CommandDescriptors()
	levels := make([]commandLevel, 0, len(commands))
	for _, cmd := range commands {
		levels = append(
			levels, commandLevel{
				Name:     cmd.Name,
				Default:  cmd.DefaultLevel,
				Required: permissions.RequiredLevel(cmd, cfg),
			},
		)
	}
	c.JSON(http.StatusOK, permissionsResponse{Config: cfg, Commands: levels})
}

// permissionErrorReply maps permission errors to status codes: 409 for
// the last owner, 400 for invalid input and 503 when the store failed.
func permissionErrorReply(c *gin.Context, err error) {
	switch {
	case errors.Is(err, permissions.ErrLastOwner):
		c.JSON(http.StatusConflict, httpError{Error: err.Error()})
	case errors.Is(err, permissions.ErrInvalidLevel), errors.Is(err, permissions.ErrEmptyID):
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
	case errors.Is(err, permissions.ErrConfigUnavailable):
		ginContextLogger(c).Error("permission store unavailable", tint.Err(err))
		c.JSON(http.StatusServiceUnavailable, httpError{Error: "permission config unavailable"})
	default:
		ginContextLogger(c).Error("permission operation failed", tint.Err(err))
		ginReplyError(c, "internal server error")
	}
}

// permissionMutation replies with the result of a mutation, announcing
// applied changes.
func (h *APIHandlers) permissionMutation(
	c *gin.Context,
	operation string,
	fn func(ctx context.Context) (permissions.Result, error),
) {
	res, err := fn(c.Request.Context())
	if err != nil {
		permissionErrorReply(c, err)
		return
	}
	if res == permissions.Applied {
		h.c.permissionsChanged(c.Request.Context(), operation)
		ginContextLogger(c).Info("permissions changed", "operation", operation)
	}
	ginReplyMessage(c, res.String())
}

func (h *APIHandlers) addOwner(c *gin.Context) {
	h.permissionMutation(
		c, "add_owner", func(ctx context.Context) (permissions.Result, error) {
			return h.c.perms.AddOwner(ctx, c.Param("id"))
		},
	)
}

func (h *APIHandlers) removeOwner(c *gin.Context) {
	username, _ := c.Get(sessionVarField)
	actor := fmt.Sprintf("api:%v", username)
	h.permissionMutation(
		c, "remove_owner", func(ctx context.Context) (permissions.Result, error) {
			return h.c.perms.RemoveOwner(ctx, actor, c.Param("id"))
		},
	)
}

func (h *APIHandlers) setRoleLevel(c *gin.Context) {
	h.permissionMutation(
		c, "set_role_level", func(ctx context.Context) (permissions.Result, error) {
			level, err := permissions.ParseLevel(c.Param("level"))
			if err != nil {
				return permissions.NotPresent, err
			}
			return h.c.perms.SetRoleLevel(ctx, c.Param("role"), level)
		},
	)
}

// removeRoleLevel removes the role from one level, or from every level
// when the level is "all".
func (h *APIHandlers) removeRoleLevel(c *gin.Context) {
	h.permissionMutation(
		c, "remove_role_level", func(ctx context.Context) (permissions.Result, error) {
			if strings.EqualFold(c.Param("level"), "all") {
				return h.c.perms.RemoveRoleEverywhere(ctx, c.Param("role"))
			}
			level, err := permissions.ParseLevel(c.Param("level"))
			if err != nil {
				return permissions.NotPresent, err
			}
			return h.c.perms.RemoveRoleFromLevel(ctx, c.Param("role"), level)
		},
	)
}

func (h *APIHandlers) setUserOverride(c *gin.Context) {
	var payload levelPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	h.permissionMutation(
		c, "set_user_override", func(ctx context.Context) (permissions.Result, error) {
			return h.c.perms.SetUserOverride(ctx, c.Param("id"), payload.Level)
		},
	)
}

func (h *APIHandlers) removeUserOverride(c *gin.Context) {
	h.permissionMutation(
		c, "remove_user_override", func(ctx context.Context) (permissions.Result, error) {
			return h.c.perms.RemoveUserOverride(ctx, c.Param("id"))
		},
	)
}

func (h *APIHandlers) setCommandOverride(c *gin.Context) {
	var payload levelPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	name := strings.ToLower(c.Param("name"))
	if _, ok := commandDescriptor(name); !ok {
		c.JSON(http.StatusNotFound, httpError{Error: fmt.Sprintf("unknown command %q", name)})
		return
	}
	h.permissionMutation(
		c, "set_command_override", func(ctx context.Context) (permissions.Result, error) {
			return h.c.perms.SetCommandOverride(ctx, name, payload.Level)
		},
	)
}

func (h *APIHandlers) removeCommandOverride(c *gin.Context) {
	h.permissionMutation(
		c, "remove_command_override", func(ctx context.Context) (permissions.Result, error) {
			return h.c.perms.RemoveCommandOverride(ctx, c.Param("name"))
		},
	)
}

func (h *APIHandlers) addLineRole(c *gin.Context) {
	h.permissionMutation(
		c, "add_line_access_role", func(ctx context.Context) (permissions.Result, error) {
			return h.c.perms.AddLineAccessRole(ctx, c.Param("role"))
		},
	)
}

func (h *APIHandlers) removeLineRole(c *gin.Context) {
	h.permissionMutation(
		c, "remove_line_access_role", func(ctx context.Context) (permissions.Result, error) {
			return h.c.perms.RemoveLineAccessRole(ctx, c.Param("role"))
		},
	)
}

func (h *APIHandlers) resetPermissions(c *gin.Context) {
	h.permissionMutation(
		c, "reset", func(ctx context.Context) (permissions.Result, error) {
			return permissions.Applied, h.c.perms.ResetToDefaults(ctx)
		},
	)
}

type Sort string

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

type getInteractionsQuery struct {
	Pagination
	UserID  string `form:"user_id" binding:"omitempty,numeric"`
	Command string `form:"command"`
	Allowed *bool  `form:"allowed"`
}

type levelPayload struct {
	Level permissions.Level `json:"level"`
}

type commandLevel struct {
	Name     string            `json:"name"`
	Default  permissions.Level `json:"default"`
	Required permissions.Level `json:"required"`
}

type permissionsResponse struct {
	Config   permissions.Config `json:"config"`
	Commands []commandLevel     `json:"commands"`
}

type statsResponse struct {
	botStats
	Requests map[string]int `json:"requests"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool      `json:"discord_gateway_connected"`
	PermissionsAvailable    bool      `json:"permissions_available"`
	Uptime                  string    `json:"uptime,omitempty"`
	NextChallenge           time.Time `json:"next_challenge"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type adminSetupPayload struct {
	Username        string `json:"username" binding:"required,max=64"`
	Password        string `json:"password" binding:"required,min=8,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

type setupResponse struct {
	Required bool `json:"required"`
}

// authMiddleware rejects requests without a logged-in session. Nothing is
// allowed before admin credentials have been set up.
func authMiddleware(bot *Crevion) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		settings := bot.Settings()
		if settings.AdminUsername == "" || settings.AdminPassword == "" {
			logger.Warn("admin credentials not set")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		username, _ := sessions.Default(c).Get(sessionVarField).(string)
		if username == "" || username != settings.AdminUsername {
			logger.Warn("request without a valid session")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Set(sessionVarField, username)
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if id == "" {
			var err error
			id, err = generateRandomHexString(16)
			if err != nil {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger stored in c, creating it
// from the default logger with the request details on first use.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if logger, isLogger := v.(*slog.Logger); isLogger {
			return logger
		}
	}
	return setGinContextLogger(c, slog.Default())
}

func setGinContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	logger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), logger)
	return logger
}

func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := setGinContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests per method and route.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Request.Method + " " + c.FullPath()
		a.requestMetricsMu.Lock()
		a.requestMetrics[key]++
		a.requestMetricsMu.Unlock()
		c.Next()
	}
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
