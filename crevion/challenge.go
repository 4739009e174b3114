package crevion

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	challengeDayFormat       = "2006-01-02"
	challengeStatementLength = 500
	challengeMaxTopics       = 3
	challengeMaxTags         = 5
	challengeThreadArchive   = 1440
	challengeStatusPosted    = "posted"
	leetCodeBaseURL          = "https://leetcode.com"

	leetCodeDailyQuery = `query questionOfToday {
  activeDailyCodingChallengeQuestion {
    date
    link
    question {
      title
      titleSlug
      difficulty
      content
      topicTags { name }
      codeSnippets { lang }
    }
  }
}`
)

var (
	ErrChallengeChannelNotSet = errors.New("challenge forum channel is not set")
	ErrChallengeNotForum      = errors.New("challenge channel is not a forum")

	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	challengeLanguages = []string{"JavaScript", "Python", "Java"}

	difficultyColors = map[string]int{
		"Easy":   0x57F287,
		"Medium": 0xFEE75C,
		"Hard":   0xED4245,
	}
	difficultyEmojis = map[string]string{
		"Easy":   "🟢",
		"Medium": "🟡",
		"Hard":   "🔴",
	}
)

// fallbackProblems are posted when LeetCode can't be reached.
var fallbackProblems = []challengeProblem{
	{
		Title:      "Two Sum",
		TitleSlug:  "two-sum",
		Difficulty: "Easy",
		Language:   "JavaScript",
		Topics:     []string{"Arrays", "Hash Table"},
		Statement: "Given an array of integers nums and an integer target, return indices " +
			"of the two numbers such that they add up to target.",
		URL: "https://leetcode.com/problems/two-sum/",
	},
	{
		Title:      "Reverse Linked List",
		TitleSlug:  "reverse-linked-list",
		Difficulty: "Easy",
		Language:   "Python",
		Topics:     []string{"Linked List", "Recursion"},
		Statement:  "Given the head of a singly linked list, reverse the list, and return the reversed list.",
		URL:        "https://leetcode.com/problems/reverse-linked-list/",
	},
}

// Challenge is a posted daily challenge.
type Challenge struct {
	ModelUintID
	Title      string `json:"title" gorm:"not null"`
	TitleSlug  string `json:"title_slug" gorm:"index"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
	Topics     string `json:"topics"`
	Statement  string `json:"statement"`
	URL        string `json:"url"`
	ThreadID   string `json:"thread_id" gorm:"index"`
	ChannelID  string `json:"channel_id"`
	TagIDs     string `json:"tag_ids"`
	Status     string `json:"status" gorm:"not null"`
	Fallback   bool   `json:"fallback"`

	// Day is the date posted, in the schedule's timezone
	Day string `json:"day" gorm:"index;not null"`

	PostedBy string `json:"posted_by"`
	PostedAt int64  `json:"posted_at" gorm:"autoCreateTime:milli"`
}

func (Challenge) TableName() string {
	return "challenges"
}

// challengeProblem is a problem ready to be posted.
type challengeProblem struct {
	Title      string
	TitleSlug  string
	Difficulty string
	Language   string
	Topics     []string
	Statement  string
	URL        string
	Fallback   bool
}

type leetCodeDailyResponse struct {
	Data struct {
		ActiveDailyCodingChallengeQuestion *struct {
			Date     string `json:"date"`
			Link     string `json:"link"`
			Question struct {
				Title      string `json:"title"`
				TitleSlug  string `json:"titleSlug"`
				Difficulty string `json:"difficulty"`
				Content    string `json:"content"`
				TopicTags  []struct {
					Name string `json:"name"`
				} `json:"topicTags"`
				CodeSnippets []struct {
					Lang string `json:"lang"`
				} `json:"codeSnippets"`
			} `json:"question"`
		} `json:"activeDailyCodingChallengeQuestion"`
	} `json:"data"`
}

// ChallengeScheduler posts the daily coding challenge to the challenge
// forum on a cron schedule.
type ChallengeScheduler struct {
	c        *Crevion
	config   *ChallengeConfig
	client   *resty.Client
	cron     *cron.Cron
	location *time.Location
	logger   *slog.Logger
	entryID  cron.EntryID

	// postMu serializes posts, so a forced post can't race the schedule
	postMu sync.Mutex
	now    func() time.Time
}

// challengeLocation loads the schedule's timezone. Without tzdata,
// Africa/Cairo falls back to a fixed UTC+2 zone.
func challengeLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("UTC+2", 2*60*60)
	}
	return loc
}

func newChallengeScheduler(c *Crevion, cfg *ChallengeConfig, httpClient *http.Client) *ChallengeScheduler {
	loc := challengeLocation(cfg.Timezone)
	hc := *httpClient
	return &ChallengeScheduler{
		c:        c,
		config:   cfg,
		client:   resty.NewWithClient(&hc).SetHeader("Content-Type", "application/json"),
		cron:     cron.New(cron.WithLocation(loc)),
		location: loc,
		logger:   newComponentLogger("challenge", c.config.LogLevel),
		now:      time.Now,
	}
}

// Start schedules the daily post. Scheduled runs use ctx.
func (s *ChallengeScheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(
		s.config.Schedule, func() {
			s.runScheduled(ctx)
		},
	)
	if err != nil {
		return fmt.Errorf("invalid challenge schedule %q: %w", s.config.Schedule, err)
	}
	s.entryID = id
	s.cron.Start()
	s.logger.InfoContext(
		ctx, "challenge scheduler started",
		"schedule", s.config.Schedule,
		"timezone", s.location.String(),
		"next", s.NextRun(),
	)
	return nil
}

// Stop stops the schedule. The returned context is done once a running
// post finishes.
func (s *ChallengeScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// NextRun returns the next scheduled post, or the zero time if the
// schedule isn't running.
func (s *ChallengeScheduler) NextRun() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *ChallengeScheduler) today() string {
	return s.now().In(s.location).Format(challengeDayFormat)
}

func (s *ChallengeScheduler) runScheduled(ctx context.Context) {
	settings := s.c.Settings()
	if !settings.FeatureProblemSolving {
		s.logger.InfoContext(ctx, "challenge feature disabled, skipping")
		return
	}
	if settings.ChallengeChannelID == "" {
		s.logger.WarnContext(ctx, "challenge channel not set, skipping")
		return
	}
	posted, err := s.postedToday(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "error checking today's challenge", tint.Err(err))
		return
	}
	if posted {
		s.logger.InfoContext(ctx, "challenge already posted today")
		return
	}
	if _, err = s.Post(ctx, ""); err != nil {
		s.logger.ErrorContext(ctx, "error posting challenge", tint.Err(err))
	}
}

func (s *ChallengeScheduler) postedToday(ctx context.Context) (bool, error) {
	var count int64
	err := s.c.db.WithContext(ctx).Model(&Challenge{}).
		Where("day = ? AND status = ?", s.today(), challengeStatusPosted).
		Count(&count).Error
	return count > 0, err
}

// Latest returns the most recently posted challenge, or nil.
func (s *ChallengeScheduler) Latest(ctx context.Context) (*Challenge, error) {
	var ch Challenge
	err := s.c.db.WithContext(ctx).Order("id desc").First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// Post fetches today's problem and posts it as a forum thread.
func (s *ChallengeScheduler) Post(ctx context.Context, postedBy string) (*Challenge, error) {
	s.postMu.Lock()
	defer s.postMu.Unlock()

	channelID := s.c.Settings().ChallengeChannelID
	if channelID == "" {
		return nil, ErrChallengeChannelNotSet
	}
	session := s.c.discord.session
	forum, err := session.Channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("error getting challenge channel: %w", err)
	}
	if forum.Type != discordgo.ChannelTypeGuildForum {
		return nil, ErrChallengeNotForum
	}

	problem := s.fetchProblem(ctx)
	tags := selectForumTags(forum.AvailableTags, problem)

	thread, err := session.ForumThreadStartComplex(
		channelID,
		&discordgo.ThreadStart{
			Name: truncate(
				fmt.Sprintf("🧩 %s [%s]", problem.Title, problem.Difficulty),
				100,
			),
			AutoArchiveDuration: challengeThreadArchive,
			AppliedTags:         tags,
		},
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{challengeEmbed(problem)},
			Components: challengeButtons(problem),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating challenge thread: %w", err)
	}

	rec := &Challenge{
		Title:      problem.Title,
		TitleSlug:  problem.TitleSlug,
		Difficulty: problem.Difficulty,
		Language:   problem.Language,
		Topics:     strings.Join(problem.Topics, ","),
		Statement:  problem.Statement,
		URL:        problem.URL,
		ThreadID:   thread.ID,
		ChannelID:  channelID,
		TagIDs:     strings.Join(tags, ","),
		Status:     challengeStatusPosted,
		Fallback:   problem.Fallback,
		Day:        s.today(),
		PostedBy:   postedBy,
	}
	if _, err = s.c.writeDB.Create(ctx, rec); err != nil {
		return rec, fmt.Errorf("challenge posted, but not saved: %w", err)
	}
	s.logger.InfoContext(
		ctx, "posted challenge",
		"title", problem.Title,
		"difficulty", problem.Difficulty,
		"thread_id", thread.ID,
		"fallback", problem.Fallback,
	)
	return rec, nil
}

// fetchProblem returns LeetCode's daily problem, or a fallback problem if
// it can't be fetched.
func (s *ChallengeScheduler) fetchProblem(ctx context.Context) challengeProblem {
	problem, err := s.fetchLeetCodeDaily(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "error fetching leetcode daily, using fallback", tint.Err(err))
		p := fallbackProblems[rand.IntN(len(fallbackProblems))]
		p.Fallback = true
		return p
	}
	return problem
}

func (s *ChallengeScheduler) fetchLeetCodeDaily(ctx context.Context) (challengeProblem, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result leetCodeDailyResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"query": leetCodeDailyQuery}).
		SetResult(&result).
		Post(s.config.LeetCodeURL)
	if err != nil {
		return challengeProblem{}, err
	}
	if resp.IsError() {
		return challengeProblem{}, fmt.Errorf("leetcode returned HTTP %d", resp.StatusCode())
	}
	daily := result.Data.ActiveDailyCodingChallengeQuestion
	if daily == nil || daily.Question.Title == "" {
		return challengeProblem{}, errors.New("no daily question in leetcode response")
	}

	q := daily.Question
	p := challengeProblem{
		Title:      q.Title,
		TitleSlug:  q.TitleSlug,
		Difficulty: q.Difficulty,
		Language:   "JavaScript",
		Statement:  ellipsis(cleanHTML(q.Content), challengeStatementLength),
		URL:        leetCodeBaseURL + daily.Link,
	}
	for _, snippet := range q.CodeSnippets {
		if containsFold(challengeLanguages, snippet.Lang) {
			p.Language = snippet.Lang
			break
		}
	}
	for _, tag := range q.TopicTags {
		if len(p.Topics) == challengeMaxTopics {
			break
		}
		p.Topics = append(p.Topics, tag.Name)
	}
	return p, nil
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// cleanHTML strips tags and entities from a LeetCode problem body.
func cleanHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// selectForumTags picks forum tags for the problem's difficulty,
// language and topics, in that order.
func selectForumTags(available []discordgo.ForumTag, p challengeProblem) []string {
	var selected []string
	has := func(id string) bool {
		for _, s := range selected {
			if s == id {
				return true
			}
		}
		return false
	}
	add := func(match func(name string) bool) {
		if len(selected) >= challengeMaxTags {
			return
		}
		for _, t := range available {
			if match(strings.ToLower(t.Name)) && !has(t.ID) {
				selected = append(selected, t.ID)
				return
			}
		}
	}

	add(func(name string) bool { return name == strings.ToLower(p.Difficulty) })
	add(func(name string) bool { return name == strings.ToLower(p.Language) })
	for _, topic := range p.Topics {
		topic = strings.ToLower(topic)
		add(func(name string) bool { return strings.Contains(name, topic) })
	}
	return selected
}

func challengeEmbed(p challengeProblem) *discordgo.MessageEmbed {
	color, ok := difficultyColors[p.Difficulty]
	if !ok {
		color = DefaultEmbedColor
	}
	title := p.Title
	if emoji, found := difficultyEmojis[p.Difficulty]; found {
		title = emoji + " " + title
	}
	return &discordgo.MessageEmbed{
		Title: title,
		Color: color,
		URL:   p.URL,
		Description: fmt.Sprintf(
			"**Difficulty:** %s\n**Language:** %s\n**Topics:** %s\n\n**Problem:**\n%s",
			p.Difficulty,
			p.Language,
			strings.Join(p.Topics, ", "),
			p.Statement,
		),
		Footer:    &discordgo.MessageEmbedFooter{Text: "🏆 From LeetCode • Solve and showcase your skills!"},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func challengeButtons(p challengeProblem) []discordgo.MessageComponent {
	var buttons []discordgo.MessageComponent
	if p.URL != "" {
		buttons = append(
			buttons, discordgo.Button{
				Label: "Solve on LeetCode",
				Style: discordgo.LinkButton,
				URL:   p.URL,
				Emoji: &discordgo.ComponentEmoji{Name: "🔗"},
			},
		)
	}
	buttons = append(
		buttons, discordgo.Button{
			Label:    "Get AI Hint",
			Style:    discordgo.PrimaryButton,
			CustomID: truncate(customIDChallengeHint+p.TitleSlug, 100),
			Emoji:    &discordgo.ComponentEmoji{Name: "🤖"},
		},
	)
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

func (c *Crevion) commandChallenge(ctx context.Context, r *commandRequest) error {
	switch r.subcommand {
	case "post":
		if err := r.deferResponse(ctx, c, true); err != nil {
			return err
		}
		var postedBy string
		if r.user != nil {
			postedBy = r.user.ID
		}
		ch, err := c.challenges.Post(ctx, postedBy)
		switch {
		case errors.Is(err, ErrChallengeChannelNotSet), errors.Is(err, ErrChallengeNotForum):
			return r.respond(
				ctx, c, reply{
					embeds: []*discordgo.MessageEmbed{
						c.warningEmbed(
							"⚠️ Challenge channel",
							"Set a forum channel first with `/config set-channel kind:challenge`.",
						),
					},
					ephemeral: true,
				},
			)
		case err != nil:
			return err
		}
		return r.respond(
			ctx, c, reply{
				embeds: []*discordgo.MessageEmbed{
					c.successEmbed(
						"✅ Challenge posted",
						fmt.Sprintf("**%s** [%s]\n<#%s>", ch.Title, ch.Difficulty, ch.ThreadID),
					),
				},
				ephemeral: true,
			},
		)
	case "status":
		return c.challengeStatus(ctx, r)
	default:
		return errors.New("unknown challenge subcommand: " + r.subcommand)
	}
}

func (c *Crevion) challengeStatus(ctx context.Context, r *commandRequest) error {
	settings := c.Settings()
	latest, err := c.challenges.Latest(ctx)
	if err != nil {
		return err
	}

	channel := "not set"
	if settings.ChallengeChannelID != "" {
		channel = "<#" + settings.ChallengeChannelID + ">"
	}
	next := "not scheduled"
	if t := c.challenges.NextRun(); !t.IsZero() {
		next = fmt.Sprintf("<t:%d:F> (<t:%d:R>)", t.Unix(), t.Unix())
	}
	last := "none"
	if latest != nil {
		last = fmt.Sprintf(
			"**%s** [%s] on %s in <#%s>",
			latest.Title, latest.Difficulty, latest.Day, latest.ThreadID,
		)
	}

	embed := c.embed("🧩 Daily challenge", "", settings.EmbedColor)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Enabled", Value: fmt.Sprintf("%t", settings.FeatureProblemSolving), Inline: true},
		{Name: "Forum", Value: channel, Inline: true},
		{Name: "Schedule", Value: fmt.Sprintf("`%s` (%s)", c.config.Challenge.Schedule, c.challenges.location)},
		{Name: "Next post", Value: next},
		{Name: "Last challenge", Value: last},
	}
	return r.respond(ctx, c, reply{embeds: []*discordgo.MessageEmbed{embed}, ephemeral: true})
}

func (c *Crevion) componentChallengeHint(ctx context.Context, r *commandRequest) error {
	if !c.ai.Available() {
		return r.respond(ctx, c, reply{content: "❌ AI not configured", ephemeral: true})
	}
	if !c.ai.Allow(r.member.ID) {
		return r.respond(ctx, c, reply{content: "⏳ استنى شوية قبل ما تسأل تاني.", ephemeral: true})
	}
	if err := r.deferResponse(ctx, c, true); err != nil {
		return err
	}

	slug := strings.TrimPrefix(r.customID, customIDChallengeHint)
	prompt := "Give me a subtle hint for the LeetCode problem \"" + slug + "\" without revealing the solution."
	var ch Challenge
	err := c.db.WithContext(ctx).
		Where("title_slug = ?", slug).
		Order("id desc").
		First(&ch).Error
	switch {
	case err == nil:
		prompt = fmt.Sprintf(
			"Give me a subtle hint for this problem without revealing the full solution:\n\n%s\n\n%s",
			ch.Title, ch.Statement,
		)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	answer, err := c.ai.Ask(ctx, r.member.ID, taskQuickAnswer, prompt, false)
	if err != nil {
		return r.respond(ctx, c, reply{content: "❌ Failed to generate hint.", ephemeral: true})
	}
	return r.respond(
		ctx, c, reply{
			embeds: []*discordgo.MessageEmbed{
				{
					Title:       "🤖 AI Hint",
					Description: ellipsis(answer.Content, 4000),
					Color:       0x4A90E2,
					Footer: &discordgo.MessageEmbedFooter{
						Text: fmt.Sprintf("Powered by %s • Keep thinking! 💪", answer.Provider),
					},
				},
			},
			ephemeral: true,
		},
	)
}
