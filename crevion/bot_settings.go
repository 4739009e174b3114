package crevion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

const (
	columnSettingsTotalCommands = "total_commands"
	columnSettingsTotalErrors   = "total_errors"
	columnSettingsAdminUsername = "admin_username"
	columnSettingsAdminPassword = "admin_password"

	DefaultPrefix        = "-"
	DefaultStatus        = string(discordgo.StatusIdle)
	DefaultEmbedColor    = 0x370080
	DefaultSuccessColor  = 0x57F287
	DefaultErrorColor    = 0xED4245
	DefaultWarningColor  = 0xFEE75C
	prefixMaxLength      = 5
	activityTextMaxRunes = 128
)

// Settings channel kinds accepted by `/config set-channel`.
const (
	channelKindAI           = "ai"
	channelKindChallenge    = "challenge"
	channelKindShowcase     = "showcase"
	channelKindNotification = "notification"
)

// Feature names accepted by `/config feature`.
const (
	featureAIAssistant       = "ai_assistant"
	featureProblemSolving    = "problem_solving"
	featureBackgroundRemover = "background_remover"
	featureCommandLogging    = "command_logging"
	featureErrorReporting    = "error_reporting"
)

var featureColumns = map[string]string{
	featureAIAssistant:       "feature_ai_assistant",
	featureProblemSolving:    "feature_problem_solving",
	featureBackgroundRemover: "feature_background_remover",
	featureCommandLogging:    "feature_command_logging",
	featureErrorReporting:    "feature_error_reporting",
}

var channelColumns = map[string]string{
	channelKindAI:           "ai_channel_id",
	channelKindChallenge:    "challenge_channel_id",
	channelKindShowcase:     "showcase_channel_id",
	channelKindNotification: "notification_channel_id",
}

// BotSettings holds the settings that can change while the bot runs. There
// is a single row, edited through `/config` and the admin API.
//
//nolint:lll // struct tags can't be split
type BotSettings struct {
	ModelUintID
	ModelUnixTime

	BotName string `json:"bot_name" gorm:"not null" binding:"min=1,max=32"`

	// Prefix for message commands, e.g. "-ping"
	Prefix string `json:"prefix" gorm:"not null" binding:"min=1,max=5"`

	// Status is the gateway presence: online, idle, dnd or invisible
	Status       string `json:"status" gorm:"not null" binding:"oneof=online idle dnd invisible"`
	ActivityText string `json:"activity_text" binding:"max=128"`

	NotificationChannelID string `json:"notification_channel_id"`
	AIChannelID           string `json:"ai_channel_id"`
	ChallengeChannelID    string `json:"challenge_channel_id"`
	ShowcaseChannelID     string `json:"showcase_channel_id"`

	// LineURL is the image posted by the line feature
	LineURL string `json:"line_url" binding:"omitempty,http_url"`

	EmbedColor   int    `json:"embed_color" gorm:"not null" binding:"gte=0,lte=16777215"`
	SuccessColor int    `json:"success_color" gorm:"not null" binding:"gte=0,lte=16777215"`
	ErrorColor   int    `json:"error_color" gorm:"not null" binding:"gte=0,lte=16777215"`
	WarningColor int    `json:"warning_color" gorm:"not null" binding:"gte=0,lte=16777215"`
	EmbedFooter  string `json:"embed_footer" binding:"max=2048"`

	FeatureAIAssistant       bool `json:"feature_ai_assistant"`
	FeatureProblemSolving    bool `json:"feature_problem_solving"`
	FeatureBackgroundRemover bool `json:"feature_background_remover"`
	FeatureCommandLogging    bool `json:"feature_command_logging"`
	FeatureErrorReporting    bool `json:"feature_error_reporting"`

	TotalCommands int64 `json:"total_commands" gorm:"not null;default:0"`
	TotalErrors   int64 `json:"total_errors" gorm:"not null;default:0"`

	AdminUsername string `json:"admin_username" log:"[redacted]"`
	AdminPassword string `json:"-" log:"[redacted]"`

	LogLevel          DBLogLevel `json:"log_level" gorm:"type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   DBLogLevel `json:"discord_log_level" gorm:"type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel DBLogLevel `json:"discordgo_log_level" gorm:"column:discordgo_log_level;type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  DBLogLevel `json:"database_log_level" gorm:"type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       DBLogLevel `json:"api_log_level" gorm:"type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	AILogLevel        DBLogLevel `json:"ai_log_level" gorm:"column:ai_log_level;type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
}

func (BotSettings) TableName() string {
	return "bot_settings"
}

func DefaultBotSettings() BotSettings {
	return BotSettings{
		BotName:                  DefaultBotName,
		Prefix:                   DefaultPrefix,
		Status:                   DefaultStatus,
		EmbedColor:               DefaultEmbedColor,
		SuccessColor:             DefaultSuccessColor,
		ErrorColor:               DefaultErrorColor,
		WarningColor:             DefaultWarningColor,
		EmbedFooter:              DefaultEmbedFooter,
		FeatureAIAssistant:       true,
		FeatureProblemSolving:    true,
		FeatureBackgroundRemover: true,
		FeatureCommandLogging:    true,
		FeatureErrorReporting:    true,
	}
}

// Feature reports whether the named feature is enabled.
func (s BotSettings) Feature(name string) bool {
	switch name {
	case featureAIAssistant:
		return s.FeatureAIAssistant
	case featureProblemSolving:
		return s.FeatureProblemSolving
	case featureBackgroundRemover:
		return s.FeatureBackgroundRemover
	case featureCommandLogging:
		return s.FeatureCommandLogging
	case featureErrorReporting:
		return s.FeatureErrorReporting
	default:
		return false
	}
}

func (s BotSettings) LogValue() slog.Value {
	return structToSlogValue(s)
}

// presence returns the gateway status update for these settings.
func (s BotSettings) presence() discordgo.UpdateStatusData {
	data := discordgo.UpdateStatusData{Status: s.Status}
	if s.ActivityText != "" {
		data.Activities = []*discordgo.Activity{
			{
				Name:  "Custom Status",
				Type:  discordgo.ActivityTypeCustom,
				State: s.ActivityText,
			},
		}
	}
	return data
}

// BotSettingsUpdate is a partial update. Nil fields are left unchanged.
//
//nolint:lll // struct tags can't be split
type BotSettingsUpdate struct {
	BotName      *string `json:"bot_name,omitempty" binding:"omitnil,min=1,max=32"`
	Prefix       *string `json:"prefix,omitempty" binding:"omitnil,min=1,max=5"`
	Status       *string `json:"status,omitempty" binding:"omitnil,oneof=online idle dnd invisible"`
	ActivityText *string `json:"activity_text,omitempty" binding:"omitnil,max=128"`

	NotificationChannelID *string `json:"notification_channel_id,omitempty" binding:"omitnil,numeric|eq="`
	AIChannelID           *string `json:"ai_channel_id,omitempty" binding:"omitnil,numeric|eq="`
	ChallengeChannelID    *string `json:"challenge_channel_id,omitempty" binding:"omitnil,numeric|eq="`
	ShowcaseChannelID     *string `json:"showcase_channel_id,omitempty" binding:"omitnil,numeric|eq="`

	LineURL *string `json:"line_url,omitempty" binding:"omitnil,http_url|eq="`

	EmbedColor   *int    `json:"embed_color,omitempty" binding:"omitnil,gte=0,lte=16777215"`
	SuccessColor *int    `json:"success_color,omitempty" binding:"omitnil,gte=0,lte=16777215"`
	ErrorColor   *int    `json:"error_color,omitempty" binding:"omitnil,gte=0,lte=16777215"`
	WarningColor *int    `json:"warning_color,omitempty" binding:"omitnil,gte=0,lte=16777215"`
	EmbedFooter  *string `json:"embed_footer,omitempty" binding:"omitnil,max=2048"`

	FeatureAIAssistant       *bool `json:"feature_ai_assistant,omitempty"`
	FeatureProblemSolving    *bool `json:"feature_problem_solving,omitempty"`
	FeatureBackgroundRemover *bool `json:"feature_background_remover,omitempty"`
	FeatureCommandLogging    *bool `json:"feature_command_logging,omitempty"`
	FeatureErrorReporting    *bool `json:"feature_error_reporting,omitempty"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	AILogLevel        *DBLogLevel `json:"ai_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (u BotSettingsUpdate) validate() error {
	return structValidator.Struct(u)
}

// columns returns the update as a column -> value map. JSON field names
// match the column names.
func (u BotSettingsUpdate) columns() (map[string]any, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var updates map[string]any
	if err = json.Unmarshal(data, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// LoadBotSettings returns the settings row, creating it with defaults if
// it doesn't exist.
func LoadBotSettings(ctx context.Context, db *gorm.DB) (*BotSettings, error) {
	var settings BotSettings
	err := db.WithContext(ctx).Attrs(DefaultBotSettings()).FirstOrCreate(&settings).Error
	if err != nil {
		return nil, fmt.Errorf("error loading bot settings: %w", err)
	}
	return &settings, nil
}

// updateBotSettings validates u and applies it to the settings row inside a
// transaction. The row is re-validated after the update and rolled back if
// the combination is invalid.
func updateBotSettings(
	ctx context.Context,
	db DBI,
	u BotSettingsUpdate,
) (*BotSettings, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	updates, err := u.columns()
	if err != nil {
		return nil, err
	}

	var settings BotSettings
	err = db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if e := tx.Attrs(DefaultBotSettings()).FirstOrCreate(&settings).Error; e != nil {
				return e
			}
			if len(updates) == 0 {
				return nil
			}
			if e := tx.Model(&settings).Updates(updates).Error; e != nil {
				return e
			}
			if e := tx.First(&settings, settings.ID).Error; e != nil {
				return e
			}
			return structValidator.Struct(settings)
		},
	)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// incrementStat atomically adds one to a counter column.
func incrementStat(ctx context.Context, db DBI, column string) error {
	_, err := db.UpdatesWhere(
		ctx,
		&BotSettings{},
		map[string]any{column: gorm.Expr(column + " + ?", 1)},
		"1 = 1",
	)
	return err
}

// SetAdminCredentials stores the admin API login. The password is stored
// as an argon2id hash.
func SetAdminCredentials(
	ctx context.Context,
	db DBI,
	username string,
	password string,
) (*BotSettings, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	var settings BotSettings
	err = db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if e := tx.Attrs(DefaultBotSettings()).FirstOrCreate(&settings).Error; e != nil {
				return e
			}
			return tx.Model(&settings).Updates(
				map[string]any{
					columnSettingsAdminUsername: username,
					columnSettingsAdminPassword: hashed,
				},
			).Error
		},
	)
	if err != nil {
		return nil, err
	}
	settings.AdminUsername = username
	settings.AdminPassword = hashed
	return &settings, nil
}
