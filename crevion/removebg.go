package crevion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"
)

var ErrRemoveBGNotConfigured = errors.New("remove.bg API key not configured")

type removeBGErrorResponse struct {
	Errors []struct {
		Title string `json:"title"`
		Code  string `json:"code"`
	} `json:"errors"`
}

// RemoveBGError is a non-2xx response from remove.bg.
type RemoveBGError struct {
	StatusCode int
	Title      string
}

func (e *RemoveBGError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("remove.bg: %s (HTTP %d)", e.Title, e.StatusCode)
	}
	return fmt.Sprintf("remove.bg returned HTTP %d", e.StatusCode)
}

// BackgroundRemover removes image backgrounds using the remove.bg API.
type BackgroundRemover struct {
	client *resty.Client
	config *RemoveBGConfig
}

func newBackgroundRemover(cfg *RemoveBGConfig, httpClient *http.Client) *BackgroundRemover {
	hc := *httpClient
	client := resty.NewWithClient(&hc).SetHeader("X-Api-Key", cfg.APIKey)
	return &BackgroundRemover{client: client, config: cfg}
}

func (b *BackgroundRemover) Available() bool {
	return b.config.APIKey != ""
}

// Remove returns a PNG of the image at imageURL with the background
// removed.
func (b *BackgroundRemover) Remove(ctx context.Context, imageURL string) ([]byte, error) {
	if !b.Available() {
		return nil, ErrRemoveBGNotConfigured
	}
	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetFormData(
			map[string]string{
				"image_url": imageURL,
				"size":      "auto",
				"format":    "png",
			},
		).
		SetError(&removeBGErrorResponse{}).
		Post(b.config.URL)
	if err != nil {
		return nil, fmt.Errorf("error calling remove.bg: %w", err)
	}
	if resp.IsError() {
		rbErr := &RemoveBGError{StatusCode: resp.StatusCode()}
		if body, ok := resp.Error().(*removeBGErrorResponse); ok && len(body.Errors) > 0 {
			rbErr.Title = body.Errors[0].Title
		}
		return nil, rbErr
	}
	if len(resp.Body()) == 0 {
		return nil, errors.New("empty response from remove.bg")
	}
	return resp.Body(), nil
}

func removeBGErrorMessage(err error) string {
	var rbErr *RemoveBGError
	switch {
	case errors.Is(err, ErrRemoveBGNotConfigured):
		return "Background removal isn't configured. Contact the bot owner."
	case errors.Is(err, context.DeadlineExceeded):
		return "remove.bg took too long to respond. Try again."
	case errors.As(err, &rbErr) && rbErr.StatusCode == http.StatusPaymentRequired:
		return "The remove.bg credits have run out."
	case errors.As(err, &rbErr) && rbErr.StatusCode == http.StatusBadRequest:
		if rbErr.Title != "" {
			return "The image couldn't be processed: " + rbErr.Title
		}
		return "The image couldn't be processed."
	default:
		return "Background removal failed. Try again."
	}
}

func (c *Crevion) commandRemoveBG(ctx context.Context, r *commandRequest) error {
	if !c.removeBG.Available() {
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.warningEmbed("⚠️ Not available", removeBGErrorMessage(ErrRemoveBGNotConfigured)),
				},
				ephemeral: true,
			},
		)
	}

	imageURL := r.attachmentURL("image")
	if imageURL == "" {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.errorEmbed("❌ No image", "Attach an image to process.")},
				ephemeral: true,
			},
		)
	}
	if a := r.resolvedAttachment("image"); a != nil &&
		a.ContentType != "" && !strings.HasPrefix(a.ContentType, "image/") {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.errorEmbed("❌ Not an image", "The attachment must be an image.")},
				ephemeral: true,
			},
		)
	}

	if err := r.deferResponse(ctx, c, false); err != nil {
		return err
	}
	data, err := c.removeBG.Remove(ctx, imageURL)
	if err != nil {
		loggerFrom(ctx, c.logger).WarnContext(ctx, "background removal failed", "error", err.Error())
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.errorEmbed("❌ Background removal failed", removeBGErrorMessage(err)),
				},
			},
		)
	}

	embed := c.successEmbed("✅ Background removed", "")
	embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://no-background.png"}
	return r.respond(
		ctx, c, reply{
			embeds: []*discordgo.MessageEmbed{embed},
			files: []*discordgo.File{
				{
					Name:        "no-background.png",
					ContentType: "image/png",
					Reader:      bytes.NewReader(data),
				},
			},
		},
	)
}
