package crevion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"
	"github.com/lmittmann/tint"

	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

const (
	lineFileName  = "line.png"
	lineUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Messages that trigger the line image.
var lineTriggers = []string{"خط", "line"}

// discordCDNHosts serve images with inconsistent content types, so the
// content type isn't checked for them.
var discordCDNHosts = []string{"cdn.discordapp.com", "media.discordapp.net", "discord.com"}

type lineErrorKind int

const (
	lineErrUnknown lineErrorKind = iota
	lineErrTimeout
	lineErrNotFound
	lineErrForbidden
	lineErrHTTP
	lineErrNotImage
	lineErrEmpty
	lineErrTooLarge
	lineErrDNS
	lineErrRefused
)

// LineFetchError describes why the line image couldn't be downloaded.
type LineFetchError struct {
	kind       lineErrorKind
	StatusCode int
	Err        error
}

func (e *LineFetchError) Error() string {
	switch e.kind {
	case lineErrTimeout:
		return "line fetch timed out"
	case lineErrNotFound, lineErrForbidden, lineErrHTTP:
		return fmt.Sprintf("line fetch returned HTTP %d", e.StatusCode)
	case lineErrNotImage:
		return "line URL is not an image"
	case lineErrEmpty:
		return "line image is empty"
	case lineErrTooLarge:
		return "line image is too large"
	case lineErrDNS:
		return "line host not found"
	case lineErrRefused:
		return "line host refused the connection"
	default:
		if e.Err != nil {
			return "line fetch failed: " + e.Err.Error()
		}
		return "line fetch failed"
	}
}

func (e *LineFetchError) Unwrap() error {
	return e.Err
}

// Title and Details are shown to owners when the line can't be posted.
func (e *LineFetchError) Title() string {
	switch e.kind {
	case lineErrTimeout:
		return "❌ انتهت مهلة تحميل الصورة"
	case lineErrNotFound:
		return "❌ الصورة غير موجودة (404)"
	case lineErrForbidden:
		return "❌ ممنوع الوصول للصورة (403)"
	case lineErrHTTP:
		return fmt.Sprintf("❌ خطأ في تحميل الصورة (%d)", e.StatusCode)
	case lineErrNotImage:
		return "❌ الرابط لا يشير إلى صورة"
	case lineErrEmpty:
		return "❌ الصورة فارغة"
	case lineErrTooLarge:
		return "❌ الصورة كبيرة جداً"
	case lineErrDNS:
		return "❌ الرابط غير موجود"
	case lineErrRefused:
		return "❌ فشل الاتصال بالسيرفر"
	default:
		return "❌ فشل تحميل صورة الخط!"
	}
}

func (e *LineFetchError) Details() string {
	switch e.kind {
	case lineErrTimeout:
		return "الصورة بطيئة جداً في التحميل"
	case lineErrNotFound:
		return "الرابط المحفوظ لم يعد يعمل. الصورة قد تكون تم حذفها أو الرابط غير صحيح."
	case lineErrForbidden:
		return "السيرفر يرفض الوصول للصورة. حاول رفع الصورة على Discord."
	case lineErrHTTP:
		return "السيرفر أرجع خطأ. الرابط قد يكون غير صحيح."
	case lineErrNotImage:
		return "الرابط المحفوظ لا يشير لصورة صحيحة."
	case lineErrEmpty:
		return "الملف المحفوظ فارغ أو تالف."
	case lineErrTooLarge:
		return "حجم الصورة أكثر من 8MB. استخدم صورة أصغر."
	case lineErrDNS:
		return "العنوان المحفوظ غير صحيح أو لم يعد موجوداً."
	case lineErrRefused:
		return "السيرفر رفض الاتصال. حاول لاحقاً."
	default:
		return ""
	}
}

// classifyLineError maps a transport error to a LineFetchError.
func classifyLineError(err error) *LineFetchError {
	var fetchErr *LineFetchError
	if errors.As(err, &fetchErr) {
		return fetchErr
	}
	rv := &LineFetchError{Err: err}
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		rv.kind = lineErrTimeout
	case errors.As(err, &dnsErr):
		rv.kind = lineErrDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		rv.kind = lineErrRefused
	case errors.As(err, &netErr) && netErr.Timeout():
		rv.kind = lineErrTimeout
	}
	return rv
}

// LineFetcher downloads the line image.
type LineFetcher struct {
	client *resty.Client
	config *LineConfig
}

func newLineFetcher(cfg *LineConfig, httpClient *http.Client) *LineFetcher {
	hc := *httpClient
	client := resty.NewWithClient(&hc).
		SetHeader("User-Agent", lineUserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return &LineFetcher{client: client, config: cfg}
}

// Fetch downloads the image at imageURL within timeout. Any failure is a
// *LineFetchError.
func (f *LineFetcher) Fetch(ctx context.Context, imageURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(imageURL)
	if err != nil {
		return nil, classifyLineError(err)
	}
	body := resp.RawBody()
	defer body.Close()

	switch status := resp.StatusCode(); {
	case status == http.StatusNotFound:
		return nil, &LineFetchError{kind: lineErrNotFound, StatusCode: status}
	case status == http.StatusForbidden:
		return nil, &LineFetchError{kind: lineErrForbidden, StatusCode: status}
	case status < 200 || status > 299:
		return nil, &LineFetchError{kind: lineErrHTTP, StatusCode: status}
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && !isDiscordCDN(imageURL) {
		return nil, &LineFetchError{kind: lineErrNotImage}
	}

	data, err := io.ReadAll(io.LimitReader(body, f.config.MaxBytes+1))
	if err != nil {
		return nil, classifyLineError(err)
	}
	switch {
	case len(data) == 0:
		return nil, &LineFetchError{kind: lineErrEmpty}
	case int64(len(data)) > f.config.MaxBytes:
		return nil, &LineFetchError{kind: lineErrTooLarge}
	}
	return data, nil
}

func isDiscordCDN(imageURL string) bool {
	u, err := url.Parse(imageURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range discordCDNHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func validLineURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isLineTrigger(content string) bool {
	content = strings.ToLower(strings.TrimSpace(content))
	for _, t := range lineTriggers {
		if content == t {
			return true
		}
	}
	return false
}

func lineFile(data []byte) *discordgo.File {
	return &discordgo.File{
		Name:        lineFileName,
		ContentType: "image/png",
		Reader:      bytes.NewReader(data),
	}
}

// handleLineTrigger posts the line image for a "خط"/"line" message.
// Members without line access are ignored without a reply.
func (c *Crevion) handleLineTrigger(ctx context.Context, m *discordgo.MessageCreate) {
	logger := loggerFrom(ctx, c.logger)
	member := memberFromMessage(m)

	allowed, err := c.perms.LineAccess(ctx, member)
	if err != nil {
		logger.ErrorContext(ctx, "error checking line access", tint.Err(err))
		return
	}
	if !allowed {
		logger.InfoContext(ctx, "line access denied")
		return
	}

	session := c.discord.session
	lineURL := c.Settings().LineURL
	if lineURL == "" {
		_, _ = session.ChannelMessageSendComplex(
			m.ChannelID, &discordgo.MessageSend{
				Embeds: []*discordgo.MessageEmbed{
					c.warningEmbed(
						"⚠️ لا يوجد خط",
						"لم يتم تعيين صورة الخط بعد.\n\nيرجى من الأونر استخدام `/line set <url>`",
					),
				},
				Reference:       m.Reference(),
				AllowedMentions: &discordgo.MessageAllowedMentions{RepliedUser: false},
			},
		)
		return
	}

	data, err := c.line.Fetch(ctx, lineURL, c.config.Line.FetchTimeout)
	if err != nil {
		logger.WarnContext(ctx, "error fetching line", "url", lineURL, tint.Err(err))
		c.sendLineErrorToOwner(ctx, m, member, lineURL, err)
		return
	}

	if err = session.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
		logger.DebugContext(ctx, "unable to delete line trigger", tint.Err(err))
	}
	if _, err = session.ChannelMessageSendComplex(
		m.ChannelID,
		&discordgo.MessageSend{Files: []*discordgo.File{lineFile(data)}},
	); err != nil {
		logger.ErrorContext(ctx, "error sending line", tint.Err(err))
		return
	}
	logger.InfoContext(ctx, "line sent")
}

// sendLineErrorToOwner replies with the fetch failure, only if the
// author is an owner.
func (c *Crevion) sendLineErrorToOwner(
	ctx context.Context,
	m *discordgo.MessageCreate,
	member permissions.Member,
	lineURL string,
	err error,
) {
	snapshot, snapErr := c.perms.Snapshot(ctx)
	if snapErr != nil || !snapshot.IsOwner(member.ID) {
		return
	}
	_, _ = c.discord.session.ChannelMessageSendComplex(
		m.ChannelID, &discordgo.MessageSend{
			Embeds:          []*discordgo.MessageEmbed{c.lineErrorEmbed(lineURL, err)},
			Reference:       m.Reference(),
			AllowedMentions: &discordgo.MessageAllowedMentions{RepliedUser: false},
		},
	)
}

func (c *Crevion) lineErrorEmbed(lineURL string, err error) *discordgo.MessageEmbed {
	fetchErr := classifyLineError(err)
	embed := c.errorEmbed(
		fetchErr.Title(),
		fmt.Sprintf(
			"%s\n\n**الحل:**\n"+
				"• تأكد من أن الرابط يعمل في المتصفح\n"+
				"• استخدم `/line set (url)` لتحديث الرابط\n"+
				"• جرب رفع الصورة على Discord وانسخ الرابط\n\n"+
				"**الرابط الحالي:**\n`%s`",
			fetchErr.Details(),
			lineURL,
		),
	)
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Crévion • هذه الرسالة تظهر للأونرز فقط"}
	return embed
}

func (c *Crevion) commandLine(ctx context.Context, r *commandRequest) error {
	switch r.subcommand {
	case "post":
		return c.linePost(ctx, r)
	case "set":
		return c.lineSet(ctx, r)
	case "view":
		return c.lineView(ctx, r)
	case "test":
		return c.lineTest(ctx, r)
	case "remove":
		_, err := c.UpdateSettings(ctx, BotSettingsUpdate{LineURL: new(string)})
		if err != nil {
			return err
		}
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.successEmbed("✅ Line removed", "The line image has been removed.")},
				ephemeral: true,
			},
		)
	default:
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.warningEmbed(
						"📏 Line System",
						fmt.Sprintf(
							"**Usage:**\n`%[1]sline set <url>` - Set line image\n"+
								"`%[1]sline view` - View current line\n"+
								"`%[1]sline test` - Test line\n"+
								"`%[1]sline post` - Post the line here\n"+
								"`%[1]sline remove` - Remove line",
							c.Settings().Prefix,
						),
					),
				},
			},
		)
	}
}

func (c *Crevion) linePost(ctx context.Context, r *commandRequest) error {
	lineURL := c.Settings().LineURL
	if lineURL == "" {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.warningEmbed("⚠️ لا يوجد خط", "لم يتم تعيين صورة الخط بعد.")},
				ephemeral: true,
			},
		)
	}
	if err := r.deferResponse(ctx, c, false); err != nil {
		return err
	}
	data, err := c.line.Fetch(ctx, lineURL, c.config.Line.FetchTimeout)
	if err != nil {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.lineErrorEmbed(lineURL, err)},
				ephemeral: true,
			},
		)
	}
	return r.respond(ctx, c, reply{files: []*discordgo.File{lineFile(data)}})
}

func (c *Crevion) lineSet(ctx context.Context, r *commandRequest) error {
	lineURL := strings.TrimSpace(r.stringOption("url"))
	if !validLineURL(lineURL) {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.errorEmbed("❌ Invalid URL", "Please provide a valid HTTP/HTTPS URL")},
				ephemeral: true,
			},
		)
	}
	if err := r.deferResponse(ctx, c, true); err != nil {
		return err
	}
	if _, err := c.line.Fetch(ctx, lineURL, c.config.Line.FetchTimeout); err != nil {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.lineErrorEmbed(lineURL, err)},
				ephemeral: true,
			},
		)
	}
	if _, err := c.UpdateSettings(ctx, BotSettingsUpdate{LineURL: &lineURL}); err != nil {
		return err
	}
	embed := c.successEmbed("✅ Line Image Updated", "The line image has been successfully updated and saved")
	embed.Image = &discordgo.MessageEmbedImage{URL: lineURL}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}, ephemeral: true})
}

func (c *Crevion) lineView(ctx context.Context, r *commandRequest) error {
	lineURL := c.Settings().LineURL
	if lineURL == "" {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.warningEmbed("📏 Line", "No line image is set.")},
				ephemeral: true,
			},
		)
	}
	embed := c.embed("📏 Line", fmt.Sprintf("**URL:**\n`%s`", lineURL), c.Settings().EmbedColor)
	embed.Image = &discordgo.MessageEmbedImage{URL: lineURL}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}, ephemeral: true})
}

func (c *Crevion) lineTest(ctx context.Context, r *commandRequest) error {
	lineURL := c.Settings().LineURL
	if lineURL == "" {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.warningEmbed("⚠️ لا يوجد خط", "لم يتم تعيين صورة الخط بعد.")},
				ephemeral: true,
			},
		)
	}
	if err := r.deferResponse(ctx, c, true); err != nil {
		return err
	}
	start := time.Now()
	data, err := c.line.Fetch(ctx, lineURL, c.config.Line.FetchTimeout)
	if err != nil {
		return r.respond(
			ctx, c, reply{
				embeds:    []*discordgo.MessageEmbed{c.lineErrorEmbed(lineURL, err)},
				ephemeral: true,
			},
		)
	}
	return r.respond(
		ctx, c, reply{
			embeds: []*discordgo.MessageEmbed{
				c.successEmbed(
					"✅ Line OK",
					fmt.Sprintf(
						"**Size:** %.1f KB\n**Fetched in:** %s",
						float64(len(data))/1024,
						time.Since(start).Round(time.Millisecond),
					),
				),
			},
			ephemeral: true,
		},
	)
}
