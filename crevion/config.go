//nolint:lll // struct tags can't be split
package crevion

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

const (
	EnvvarSetEnvPrefix     = "CREVION_ENV_PREFIX"
	DefaultEnvPrefix       = "CREVION"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "crevion.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentMessageContent |
		discordgo.IntentGuildMembers
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordStartupMessage = "Crévion is online"
	DefaultBotName               = "Crévion"
	DefaultEmbedFooter           = "Crévion Community"

	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultUITLSMinVersion  = tls.VersionTLS12
	DefaultAPISessionMaxAge = 6 * time.Hour
	DefaultAPILogLevel      = slog.LevelInfo
	defaultListenNetwork    = "tcp"

	DefaultAPICORSAllowCredentials = true

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn

	DefaultPermissionsTimeout = 5 * time.Second

	DefaultGroqBaseURL       = "https://api.groq.com/openai/v1"
	DefaultGroqModel         = "llama-3.3-70b-versatile"
	DefaultGroqMaxTokens     = 8000
	DefaultDeepSeekBaseURL   = "https://api.deepseek.com/v1"
	DefaultDeepSeekModel     = "deepseek-chat"
	DefaultDeepSeekMaxTokens = 4000
	DefaultAITemperature     = 0.7
	DefaultAITopP            = 0.9
	DefaultAIRequestTimeout  = 30 * time.Second
	DefaultAIHistoryTurns    = 15
	DefaultAIHistoryTTL      = time.Hour
	DefaultAIUserRateLimit   = 10 * time.Second
	DefaultAIUserBurst       = 3
	DefaultAILogLevel        = slog.LevelInfo

	DefaultChallengeSchedule = "0 12 * * *"
	DefaultChallengeTimezone = "Africa/Cairo"
	DefaultLeetCodeURL       = "https://leetcode.com/graphql"
	DefaultLeetCodeTimeout   = 10 * time.Second

	DefaultLineFetchTimeout     = 15 * time.Second
	DefaultAutoLineFetchTimeout = 5 * time.Second
	DefaultLineMaxBytes         = 8 * 1024 * 1024

	DefaultRemoveBGURL     = "https://api.remove.bg/v1.0/removebg"
	DefaultRemoveBGTimeout = 30 * time.Second

	discordMaxMessageLength = 2000
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		"X-CSRF-Token",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
		"Location",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the static configuration, loaded from the environment at
// startup. Settings that can change while the bot runs live in
// [BotSettings] instead.
type Config struct {
	// Database connection string (a file path for sqlite)
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType is either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	DatabaseLogLevel      *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`
	DatabaseSlowThreshold time.Duration  `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	Discord     *DiscordConfig     `yaml:"discord" mapstructure:"discord" json:"discord"`
	API         *APIConfig         `yaml:"api" mapstructure:"api" json:"api"`
	AI          *AIConfig          `yaml:"ai" mapstructure:"ai" json:"ai"`
	Challenge   *ChallengeConfig   `yaml:"challenge" mapstructure:"challenge" json:"challenge"`
	Line        *LineConfig        `yaml:"line" mapstructure:"line" json:"line"`
	RemoveBG    *RemoveBGConfig    `yaml:"removebg" mapstructure:"removebg" json:"removebg"`
	Permissions *PermissionsConfig `yaml:"permissions" mapstructure:"permissions" json:"permissions"`

	// StartupTimeout limits how long the bot has to connect and register
	// commands before startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for in-flight handlers to finish.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

type DiscordConfig struct {
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID scopes command registration to a single guild. Empty
	// registers commands globally.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// StartupMessage is sent to the notification channel on connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

type APIConfig struct {
	// Listen is the address the admin API listens on. Empty disables it.
	Listen        string `yaml:"listen" mapstructure:"listen" json:"listen"`
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret is used to derive the session cookie key. A random key is
	// generated when empty, which invalidates sessions on restart.
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	SSL               *CertConfig    `yaml:"ssl" mapstructure:"ssl" json:"ssl"`
	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	CORS              CORSConfig     `yaml:"cors" mapstructure:"cors" json:"cors"`
	ReadTimeout       time.Duration  `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration  `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration  `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration  `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
	SessionMaxAge     time.Duration  `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age"`

	// Development disables secure cookies, for running without TLS
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

type CertConfig struct {
	Cert          string `yaml:"cert" mapstructure:"cert" json:"cert"`
	Key           string `yaml:"key" mapstructure:"key" json:"key" log:"[redacted]"`
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

// GINConfig returns the CORS config for the gin cors middleware
func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
}

// AIProviderConfig configures one OpenAI-compatible completion endpoint.
type AIProviderConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`
	Model     string `yaml:"model" mapstructure:"model" json:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"gte=0"`
}

type AIConfig struct {
	Groq     AIProviderConfig `yaml:"groq" mapstructure:"groq" json:"groq"`
	DeepSeek AIProviderConfig `yaml:"deepseek" mapstructure:"deepseek" json:"deepseek"`

	Temperature    float32       `yaml:"temperature" mapstructure:"temperature" json:"temperature" binding:"gte=0,lte=2"`
	TopP           float32       `yaml:"top_p" mapstructure:"top_p" json:"top_p" binding:"gte=0,lte=1"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout"`

	// HistoryTurns is the number of messages kept per user
	HistoryTurns int           `yaml:"history_turns" mapstructure:"history_turns" json:"history_turns" binding:"gte=0"`
	HistoryTTL   time.Duration `yaml:"history_ttl" mapstructure:"history_ttl" json:"history_ttl"`

	// UserRateLimit is the minimum interval between requests per user,
	// after UserBurst requests.
	UserRateLimit time.Duration `yaml:"user_rate_limit" mapstructure:"user_rate_limit" json:"user_rate_limit"`
	UserBurst     int           `yaml:"user_burst" mapstructure:"user_burst" json:"user_burst" binding:"gte=0"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

type ChallengeConfig struct {
	// Schedule is a cron spec, evaluated in Timezone
	Schedule    string        `yaml:"schedule" mapstructure:"schedule" json:"schedule"`
	Timezone    string        `yaml:"timezone" mapstructure:"timezone" json:"timezone"`
	LeetCodeURL string        `yaml:"leetcode_url" mapstructure:"leetcode_url" json:"leetcode_url" binding:"omitempty,url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
}

type LineConfig struct {
	FetchTimeout     time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout" json:"fetch_timeout"`
	AutoFetchTimeout time.Duration `yaml:"auto_fetch_timeout" mapstructure:"auto_fetch_timeout" json:"auto_fetch_timeout"`
	MaxBytes         int64         `yaml:"max_bytes" mapstructure:"max_bytes" json:"max_bytes" binding:"gte=0"`
}

type RemoveBGConfig struct {
	APIKey  string        `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`
	URL     string        `yaml:"url" mapstructure:"url" json:"url" binding:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
}

// PermissionsConfig seeds the permission record and defines the baseline
// that a reset restores.
type PermissionsConfig struct {
	// Owners are added to the permission record when it is first created
	Owners []string `yaml:"owners" mapstructure:"owners" json:"owners"`

	AdminRoles     []string `yaml:"admin_roles" mapstructure:"admin_roles" json:"admin_roles"`
	ModeratorRoles []string `yaml:"moderator_roles" mapstructure:"moderator_roles" json:"moderator_roles"`
	HelperRoles    []string `yaml:"helper_roles" mapstructure:"helper_roles" json:"helper_roles"`
	VIPRoles       []string `yaml:"vip_roles" mapstructure:"vip_roles" json:"vip_roles"`
	MemberRoles    []string `yaml:"member_roles" mapstructure:"member_roles" json:"member_roles"`
	LineRoles      []string `yaml:"line_roles" mapstructure:"line_roles" json:"line_roles"`

	// Timeout bounds every permission store operation
	Timeout  time.Duration  `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// Defaults returns the role baseline as a [permissions.Defaults].
func (p PermissionsConfig) Defaults() permissions.Defaults {
	return permissions.Defaults{
		RolesByLevel: map[permissions.Level][]string{
			permissions.Admin:       p.AdminRoles,
			permissions.Moderator:   p.ModeratorRoles,
			permissions.Helper:      p.HelperRoles,
			permissions.VIP:         p.VIPRoles,
			permissions.LevelMember: p.MemberRoles,
		},
		LineAccessRoles: p.LineRoles,
	}
}

// DefaultConfig returns a Config with every default applied. Log levels
// are allocated here so they can be adjusted at runtime.
func DefaultConfig() *Config {
	cfg := &Config{
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      &slog.LevelVar{},
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              &slog.LevelVar{},
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:          &slog.LevelVar{},
			DiscordGoLogLevel: &slog.LevelVar{},
			StartupMessage:    DefaultDiscordStartupMessage,
			GatewayIntents:    DefaultDiscordGatewayIntent,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: &CertConfig{
				TLSMinVersion: DefaultUITLSMinVersion,
			},
			LogLevel: &slog.LevelVar{},
			CORS: CORSConfig{
				AllowMethods:     DefaultCORSAllowMethods,
				AllowHeaders:     DefaultCORSAllowHeaders,
				ExposeHeaders:    DefaultCORSExposeHeaders,
				AllowCredentials: DefaultAPICORSAllowCredentials,
				MaxAge:           DefaultCORSMaxAge,
			},
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
		},
		AI: &AIConfig{
			Groq: AIProviderConfig{
				BaseURL:   DefaultGroqBaseURL,
				Model:     DefaultGroqModel,
				MaxTokens: DefaultGroqMaxTokens,
			},
			DeepSeek: AIProviderConfig{
				BaseURL:   DefaultDeepSeekBaseURL,
				Model:     DefaultDeepSeekModel,
				MaxTokens: DefaultDeepSeekMaxTokens,
			},
			Temperature:    DefaultAITemperature,
			TopP:           DefaultAITopP,
			RequestTimeout: DefaultAIRequestTimeout,
			HistoryTurns:   DefaultAIHistoryTurns,
			HistoryTTL:     DefaultAIHistoryTTL,
			UserRateLimit:  DefaultAIUserRateLimit,
			UserBurst:      DefaultAIUserBurst,
			LogLevel:       &slog.LevelVar{},
		},
		Challenge: &ChallengeConfig{
			Schedule:    DefaultChallengeSchedule,
			Timezone:    DefaultChallengeTimezone,
			LeetCodeURL: DefaultLeetCodeURL,
			Timeout:     DefaultLeetCodeTimeout,
		},
		Line: &LineConfig{
			FetchTimeout:     DefaultLineFetchTimeout,
			AutoFetchTimeout: DefaultAutoLineFetchTimeout,
			MaxBytes:         DefaultLineMaxBytes,
		},
		RemoveBG: &RemoveBGConfig{
			URL:     DefaultRemoveBGURL,
			Timeout: DefaultRemoveBGTimeout,
		},
		Permissions: &PermissionsConfig{
			Timeout:  DefaultPermissionsTimeout,
			LogLevel: &slog.LevelVar{},
		},
	}
	cfg.DatabaseLogLevel.Set(DefaultDatabaseLogLevel)
	cfg.LogLevel.Set(DefaultLogLevel)
	cfg.Discord.LogLevel.Set(DefaultDiscordLogLevel)
	cfg.Discord.DiscordGoLogLevel.Set(DefaultDiscordgoLogLevel)
	cfg.API.LogLevel.Set(DefaultAPILogLevel)
	cfg.AI.LogLevel.Set(DefaultAILogLevel)
	cfg.Permissions.LogLevel.Set(DefaultLogLevel)
	return cfg
}
