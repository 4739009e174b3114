package crevion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemoveBGKey = "test-removebg-key"

var testRemoveBGImage = []byte("\x89PNG\r\n\x1a\nno-background")

// newRemoveBGServer imitates remove.bg. Image URLs ending in "/credits"
// or "/bad" produce the matching API errors.
func newRemoveBGServer(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-Api-Key") != testRemoveBGKey {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				if err := r.ParseForm(); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				imageURL := r.PostForm.Get("image_url")
				switch {
				case r.PostForm.Get("format") != "png":
					w.WriteHeader(http.StatusBadRequest)
				case len(imageURL) > 8 && imageURL[len(imageURL)-8:] == "/credits":
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusPaymentRequired)
					_, _ = w.Write([]byte(`{"errors":[{"title":"Insufficient credits","code":"insufficient_credits"}]}`))
				case len(imageURL) > 4 && imageURL[len(imageURL)-4:] == "/bad":
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"errors":[{"title":"Could not identify foreground in image"}]}`))
				default:
					w.Header().Set("Content-Type", "image/png")
					_, _ = w.Write(testRemoveBGImage)
				}
			},
		),
	)
	t.Cleanup(srv.Close)
	return srv
}

func newRemoveBGTestBot(t testing.TB, url string) (*Crevion, *mockDiscordSession) {
	t.Helper()
	cfg := newTestConfig(t)
	cfg.RemoveBG.APIKey = testRemoveBGKey
	cfg.RemoveBG.URL = url
	return newTestBotWithConfig(t, cfg)
}

func TestBackgroundRemover_Remove(t *testing.T) {
	t.Parallel()
	srv := newRemoveBGServer(t)
	bot, _ := newRemoveBGTestBot(t, srv.URL)
	ctx := context.Background()

	data, err := bot.removeBG.Remove(ctx, "https://cdn.example.com/cat.png")
	require.NoError(t, err)
	assert.Equal(t, testRemoveBGImage, data)

	_, err = bot.removeBG.Remove(ctx, "https://cdn.example.com/credits")
	var rbErr *RemoveBGError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, http.StatusPaymentRequired, rbErr.StatusCode)
	assert.Equal(t, "Insufficient credits", rbErr.Title)
	assert.Equal(t, "The remove.bg credits have run out.", removeBGErrorMessage(err))

	_, err = bot.removeBG.Remove(ctx, "https://cdn.example.com/bad")
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, http.StatusBadRequest, rbErr.StatusCode)
	assert.Contains(t, removeBGErrorMessage(err), "Could not identify foreground")
}

func TestBackgroundRemover_NotConfigured(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	assert.False(t, bot.removeBG.Available())
	_, err := bot.removeBG.Remove(context.Background(), "https://cdn.example.com/cat.png")
	assert.ErrorIs(t, err, ErrRemoveBGNotConfigured)
}

func TestRemoveBGErrorMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{ErrRemoveBGNotConfigured, "isn't configured"},
		{fmt.Errorf("error calling remove.bg: %w", context.DeadlineExceeded), "too long"},
		{&RemoveBGError{StatusCode: http.StatusPaymentRequired}, "credits have run out"},
		{&RemoveBGError{StatusCode: http.StatusBadRequest}, "couldn't be processed"},
		{&RemoveBGError{StatusCode: http.StatusInternalServerError}, "failed"},
		{errors.New("x"), "failed"},
	}
	for _, tc := range tests {
		assert.Contains(t, removeBGErrorMessage(tc.err), tc.want)
	}
}

// removeBGInteraction builds a /removebg interaction with a resolved
// attachment.
func removeBGInteraction(t testing.TB, attachment *discordgo.MessageAttachment) *discordgo.InteractionCreate {
	t.Helper()
	i := slashInteraction(t, testMemberID, nil, commandRemoveBG, stringOpt("image", attachment.ID))
	data := i.Data.(discordgo.ApplicationCommandInteractionData)
	data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
		Attachments: map[string]*discordgo.MessageAttachment{attachment.ID: attachment},
	}
	i.Data = data
	return i
}

func TestCommandRemoveBG(t *testing.T) {
	t.Parallel()
	srv := newRemoveBGServer(t)
	bot, _ := newRemoveBGTestBot(t, srv.URL)

	handler := newStubInteractionHandler(
		removeBGInteraction(
			t, &discordgo.MessageAttachment{
				ID:          "att-1",
				URL:         "https://cdn.example.com/cat.png",
				ContentType: "image/png",
			},
		),
	)
	bot.handleInteraction(context.Background(), handler)

	assert.Equal(t, "✅ Background removed", handler.lastEmbed(t).Title)
	require.Len(t, handler.files, 1)
	assert.Equal(t, "no-background.png", handler.files[0].Name)

	handler = newStubInteractionHandler(
		removeBGInteraction(
			t, &discordgo.MessageAttachment{
				ID:          "att-2",
				URL:         "https://cdn.example.com/notes.txt",
				ContentType: "text/plain",
			},
		),
	)
	bot.handleInteraction(context.Background(), handler)
	assert.Equal(t, "❌ Not an image", handler.lastEmbed(t).Title)

	handler = newStubInteractionHandler(
		removeBGInteraction(
			t, &discordgo.MessageAttachment{
				ID:  "att-3",
				URL: "https://cdn.example.com/credits",
			},
		),
	)
	bot.handleInteraction(context.Background(), handler)
	embed := handler.lastEmbed(t)
	assert.Equal(t, "❌ Background removal failed", embed.Title)
	assert.Contains(t, embed.Description, "credits")

	// a missing attachment
	handler = runSlash(t, bot, testMemberID, nil, commandRemoveBG, stringOpt("image", "att-9"))
	assert.Equal(t, "❌ No image", handler.lastEmbed(t).Title)
}

func TestCommandRemoveBG_NotConfigured(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	handler := runSlash(t, bot, testMemberID, nil, commandRemoveBG, stringOpt("image", "att-1"))
	assert.Equal(t, "⚠️ Not available", handler.lastEmbed(t).Title)
}
