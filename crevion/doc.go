// Package crevion implements the Crévion community helper bot for Discord.
//
// Every slash command, prefix command and message component is checked
// against the permission hierarchy in the permissions package before it
// runs. The bot also handles:
//
//   - the line image, posted on a trigger word and after every message in
//     auto-line channels
//   - auto-replies matched against message content
//   - an AI assistant backed by Groq and DeepSeek
//   - a daily LeetCode challenge posted to a forum channel
//   - background removal through remove.bg
//
// Key components:
//
//   - Crevion: owns the Discord session, the database and the components
//   - Discord: gateway session and command registration
//   - API: the admin HTTP API for settings and permissions
//   - DBNotifier: settings reload and stop signals across instances
//
// Settings that can change at runtime are stored in a single BotSettings
// row and edited through `/config` or the API.
package crevion
