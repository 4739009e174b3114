package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aslmdev/Crevion-Helper-Bot/crevion"
)

var (
	cfg        = crevion.DefaultConfig()
	configFile string
)

// logLevelKeys are the config keys holding a *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
	"ai.log_level",
	"permissions.log_level",
}

// stringSliceKeys are read from the environment as space-separated lists
var stringSliceKeys = []string{
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
	"permissions.owners",
	"permissions.admin_roles",
	"permissions.moderator_roles",
	"permissions.helper_roles",
	"permissions.vip_roles",
	"permissions.member_roles",
	"permissions.line_roles",
}

var rootCmd = &cobra.Command{
	Use:   "crevion [flags]",
	Short: "Crévion community Discord bot",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names ("INFO", "debug") into
// *slog.LevelVar fields.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading env file %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", crevion.DefaultDatabase)
	viper.SetDefault("database_type", crevion.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", crevion.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", crevion.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", crevion.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", crevion.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", crevion.DefaultShutdownTimeout)

	// Discord
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", crevion.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", crevion.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", int(crevion.DefaultDiscordGatewayIntent))
	viper.SetDefault("discord.startup_message", crevion.DefaultDiscordStartupMessage)

	// Admin API
	viper.SetDefault("api.listen", crevion.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.log_level", crevion.DefaultAPILogLevel.String())
	viper.SetDefault("api.session_max_age", crevion.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", crevion.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", crevion.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", crevion.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", crevion.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", crevion.DefaultUITLSMinVersion)
	viper.SetDefault("api.cors.allow_headers", crevion.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", crevion.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", crevion.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", crevion.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", crevion.DefaultAPICORSAllowCredentials)

	// AI providers
	viper.SetDefault("ai.groq.api_key", "")
	viper.SetDefault("ai.groq.base_url", crevion.DefaultGroqBaseURL)
	viper.SetDefault("ai.groq.model", crevion.DefaultGroqModel)
	viper.SetDefault("ai.groq.max_tokens", crevion.DefaultGroqMaxTokens)
	viper.SetDefault("ai.deepseek.api_key", "")
	viper.SetDefault("ai.deepseek.base_url", crevion.DefaultDeepSeekBaseURL)
	viper.SetDefault("ai.deepseek.model", crevion.DefaultDeepSeekModel)
	viper.SetDefault("ai.deepseek.max_tokens", crevion.DefaultDeepSeekMaxTokens)
	viper.SetDefault("ai.temperature", crevion.DefaultAITemperature)
	viper.SetDefault("ai.top_p", crevion.DefaultAITopP)
	viper.SetDefault("ai.request_timeout", crevion.DefaultAIRequestTimeout)
	viper.SetDefault("ai.history_turns", crevion.DefaultAIHistoryTurns)
	viper.SetDefault("ai.history_ttl", crevion.DefaultAIHistoryTTL)
	viper.SetDefault("ai.user_rate_limit", crevion.DefaultAIUserRateLimit)
	viper.SetDefault("ai.user_burst", crevion.DefaultAIUserBurst)
	viper.SetDefault("ai.log_level", crevion.DefaultAILogLevel.String())

	// Daily challenge
	viper.SetDefault("challenge.schedule", crevion.DefaultChallengeSchedule)
	viper.SetDefault("challenge.timezone", crevion.DefaultChallengeTimezone)
	viper.SetDefault("challenge.leetcode_url", crevion.DefaultLeetCodeURL)
	viper.SetDefault("challenge.timeout", crevion.DefaultLeetCodeTimeout)

	// Line images
	viper.SetDefault("line.fetch_timeout", crevion.DefaultLineFetchTimeout)
	viper.SetDefault("line.auto_fetch_timeout", crevion.DefaultAutoLineFetchTimeout)
	viper.SetDefault("line.max_bytes", crevion.DefaultLineMaxBytes)

	// remove.bg
	viper.SetDefault("removebg.api_key", "")
	viper.SetDefault("removebg.url", crevion.DefaultRemoveBGURL)
	viper.SetDefault("removebg.timeout", crevion.DefaultRemoveBGTimeout)

	// Permissions
	viper.SetDefault("permissions.owners", []string{})
	viper.SetDefault("permissions.admin_roles", []string{})
	viper.SetDefault("permissions.moderator_roles", []string{})
	viper.SetDefault("permissions.helper_roles", []string{})
	viper.SetDefault("permissions.vip_roles", []string{})
	viper.SetDefault("permissions.member_roles", []string{})
	viper.SetDefault("permissions.line_roles", []string{})
	viper.SetDefault("permissions.timeout", crevion.DefaultPermissionsTimeout)
	viper.SetDefault("permissions.log_level", crevion.DefaultLogLevel.String())

	envPrefix := os.Getenv(crevion.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = crevion.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for _, key := range stringSliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range logLevelKeys {
		if _, ok := viper.Get(key).(*slog.LevelVar); ok {
			continue
		}
		lvl, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, lvl)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"env file to load",
	)
}
