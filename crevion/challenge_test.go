package crevion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testForumID = "400000000000000077"

const testLeetCodeResponse = `{
  "data": {
    "activeDailyCodingChallengeQuestion": {
      "date": "2026-10-18",
      "link": "/problems/merge-intervals/",
      "question": {
        "title": "Merge Intervals",
        "titleSlug": "merge-intervals",
        "difficulty": "Medium",
        "content": "<p>Given an array of <code>intervals</code>, merge all overlapping intervals &amp; return them.</p>\n\n<p>&nbsp;</p>",
        "topicTags": [{"name": "Array"}, {"name": "Sorting"}, {"name": "Greedy"}, {"name": "Math"}],
        "codeSnippets": [{"lang": "C++"}, {"lang": "Python"}, {"lang": "Java"}]
      }
    }
  }
}`

// newLeetCodeServer serves body for the daily question query with status.
func newLeetCodeServer(t testing.TB, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Query string `json:"query"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
					r.Method != http.MethodPost ||
					!strings.Contains(req.Query, "activeDailyCodingChallengeQuestion") {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(body))
			},
		),
	)
	t.Cleanup(srv.Close)
	return srv
}

func newChallengeTestBot(t testing.TB, leetCodeURL string) (*Crevion, *mockDiscordSession) {
	t.Helper()
	cfg := newTestConfig(t)
	cfg.Challenge.LeetCodeURL = leetCodeURL
	cfg.Challenge.Timeout = 2 * time.Second
	bot, session := newTestBotWithConfig(t, cfg)

	session.channels[testForumID] = &discordgo.Channel{
		ID:   testForumID,
		Type: discordgo.ChannelTypeGuildForum,
		AvailableTags: []discordgo.ForumTag{
			{ID: "t_easy", Name: "Easy"},
			{ID: "t_medium", Name: "Medium"},
			{ID: "t_python", Name: "Python"},
			{ID: "t_arrays", Name: "Arrays"},
			{ID: "t_sorting", Name: "Sorting"},
		},
	}
	session.channels[testChannelID] = &discordgo.Channel{ID: testChannelID, Type: discordgo.ChannelTypeGuildText}
	return bot, session
}

func setChallengeChannel(t testing.TB, bot *Crevion, channelID string) {
	t.Helper()
	_, err := bot.UpdateSettings(context.Background(), BotSettingsUpdate{ChallengeChannelID: &channelID})
	require.NoError(t, err)
}

func TestCleanHTML(t *testing.T) {
	t.Parallel()
	assert.Equal(
		t,
		"Given <b> an array x & y",
		cleanHTML("<p>Given &lt;b&gt; an <code>array</code></p>\n\n<p>x &amp;   y</p>"),
	)
	assert.Equal(t, "", cleanHTML("<p></p>"))
}

func TestSelectForumTags(t *testing.T) {
	t.Parallel()
	available := []discordgo.ForumTag{
		{ID: "1", Name: "Easy"},
		{ID: "2", Name: "JavaScript"},
		{ID: "3", Name: "Hash Table"},
		{ID: "4", Name: "Arrays"},
		{ID: "5", Name: "Linked List"},
		{ID: "6", Name: "Strings"},
		{ID: "7", Name: "Math"},
	}

	p := challengeProblem{Difficulty: "Easy", Language: "JavaScript", Topics: []string{"Array", "Hash Table"}}
	assert.Equal(t, []string{"1", "2", "4", "3"}, selectForumTags(available, p))

	// no duplicates, and unknown values are skipped
	p = challengeProblem{Difficulty: "Hard", Language: "Go", Topics: []string{"Array", "Arrays", "Trie"}}
	assert.Equal(t, []string{"4"}, selectForumTags(available, p))

	p = challengeProblem{
		Difficulty: "Easy",
		Language:   "JavaScript",
		Topics:     []string{"Hash", "Array", "Linked", "String", "Math"},
	}
	assert.Len(t, selectForumTags(available, p), challengeMaxTags)

	assert.Empty(t, selectForumTags(nil, p))
}

func TestChallengeScheduler_FetchLeetCodeDaily(t *testing.T) {
	t.Parallel()
	srv := newLeetCodeServer(t, http.StatusOK, testLeetCodeResponse)
	bot, _ := newChallengeTestBot(t, srv.URL)

	p, err := bot.challenges.fetchLeetCodeDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Merge Intervals", p.Title)
	assert.Equal(t, "merge-intervals", p.TitleSlug)
	assert.Equal(t, "Medium", p.Difficulty)
	assert.Equal(t, "Python", p.Language)
	assert.Equal(t, []string{"Array", "Sorting", "Greedy"}, p.Topics)
	assert.Equal(t, leetCodeBaseURL+"/problems/merge-intervals/", p.URL)
	assert.Equal(t, "Given an array of intervals, merge all overlapping intervals & return them.", p.Statement)
	assert.False(t, p.Fallback)
}

func TestChallengeScheduler_FetchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"errors":[{"message":"down"}]}`},
		{"no question", http.StatusOK, `{"data":{"activeDailyCodingChallengeQuestion":null}}`},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				srv := newLeetCodeServer(t, tc.status, tc.body)
				bot, _ := newChallengeTestBot(t, srv.URL)

				_, err := bot.challenges.fetchLeetCodeDaily(context.Background())
				require.Error(t, err)

				p := bot.challenges.fetchProblem(context.Background())
				assert.True(t, p.Fallback)
				assert.Contains(t, []string{"Two Sum", "Reverse Linked List"}, p.Title)
			},
		)
	}
}

func TestChallengeScheduler_Post(t *testing.T) {
	t.Parallel()
	srv := newLeetCodeServer(t, http.StatusOK, testLeetCodeResponse)
	bot, session := newChallengeTestBot(t, srv.URL)
	ctx := context.Background()

	_, err := bot.challenges.Post(ctx, testOwnerID)
	require.ErrorIs(t, err, ErrChallengeChannelNotSet)

	setChallengeChannel(t, bot, testChannelID)
	_, err = bot.challenges.Post(ctx, testOwnerID)
	require.ErrorIs(t, err, ErrChallengeNotForum)

	setChallengeChannel(t, bot, testForumID)
	rec, err := bot.challenges.Post(ctx, testOwnerID)
	require.NoError(t, err)
	assert.Equal(t, "Merge Intervals", rec.Title)
	assert.Equal(t, "thread_1", rec.ThreadID)
	assert.Equal(t, "t_medium,t_python,t_arrays,t_sorting", rec.TagIDs)
	assert.Equal(t, challengeStatusPosted, rec.Status)
	assert.Equal(t, testOwnerID, rec.PostedBy)

	require.Len(t, session.threads, 1)
	thread := session.threads[0]
	assert.Equal(t, testForumID, thread.ChannelID)
	assert.Equal(t, "🧩 Merge Intervals [Medium]", thread.Thread.Name)
	assert.Equal(t, []string{"t_medium", "t_python", "t_arrays", "t_sorting"}, thread.Thread.AppliedTags)
	require.Len(t, thread.Message.Embeds, 1)
	assert.Equal(t, "🟡 Merge Intervals", thread.Message.Embeds[0].Title)
	assert.Equal(t, difficultyColors["Medium"], thread.Message.Embeds[0].Color)

	latest, err := bot.challenges.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, rec.ID, latest.ID)
	assert.Equal(t, bot.challenges.today(), latest.Day)

	posted, err := bot.challenges.postedToday(ctx)
	require.NoError(t, err)
	assert.True(t, posted)
}

func TestChallengeScheduler_RunScheduled(t *testing.T) {
	t.Parallel()
	srv := newLeetCodeServer(t, http.StatusOK, testLeetCodeResponse)
	bot, session := newChallengeTestBot(t, srv.URL)
	ctx := context.Background()

	// nothing happens without a channel
	bot.challenges.runScheduled(ctx)
	assert.Empty(t, session.threads)

	setChallengeChannel(t, bot, testForumID)
	bot.challenges.runScheduled(ctx)
	assert.Len(t, session.threads, 1)

	// once a day
	bot.challenges.runScheduled(ctx)
	assert.Len(t, session.threads, 1)

	bot.challenges.now = func() time.Time {
		return time.Now().Add(48 * time.Hour)
	}
	bot.challenges.runScheduled(ctx)
	assert.Len(t, session.threads, 2)

	disabled := false
	_, err := bot.UpdateSettings(ctx, BotSettingsUpdate{FeatureProblemSolving: &disabled})
	require.NoError(t, err)
	bot.challenges.now = func() time.Time {
		return time.Now().Add(96 * time.Hour)
	}
	bot.challenges.runScheduled(ctx)
	assert.Len(t, session.threads, 2)
}

func TestChallengeScheduler_StartStop(t *testing.T) {
	t.Parallel()
	bot, _ := newChallengeTestBot(t, "http://127.0.0.1:1")

	assert.True(t, bot.challenges.NextRun().IsZero())

	require.NoError(t, bot.challenges.Start(context.Background()))
	next := bot.challenges.NextRun()
	assert.False(t, next.IsZero())
	assert.True(t, next.After(time.Now()))

	select {
	case <-bot.challenges.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler didn't stop")
	}
}

func TestChallengeScheduler_InvalidSchedule(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	cfg.Challenge.Schedule = "every day"
	bot, _ := newTestBotWithConfig(t, cfg)

	err := bot.challenges.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid challenge schedule")
}

func TestCommandChallenge(t *testing.T) {
	t.Parallel()
	srv := newLeetCodeServer(t, http.StatusOK, testLeetCodeResponse)
	bot, _ := newChallengeTestBot(t, srv.URL)

	handler := runSlash(t, bot, testOwnerID, nil, commandChallenge, subcommandOpt("post"))
	assert.Equal(t, "⚠️ Challenge channel", handler.lastEmbed(t).Title)

	setChallengeChannel(t, bot, testForumID)
	handler = runSlash(t, bot, testOwnerID, nil, commandChallenge, subcommandOpt("post"))
	embed := handler.lastEmbed(t)
	assert.Equal(t, "✅ Challenge posted", embed.Title)
	assert.Contains(t, embed.Description, "Merge Intervals")

	handler = runSlash(t, bot, testOwnerID, nil, commandChallenge, subcommandOpt("status"))
	fields := map[string]string{}
	for _, f := range handler.lastEmbed(t).Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "<#"+testForumID+">", fields["Forum"])
	assert.Equal(t, "not scheduled", fields["Next post"])
	assert.Contains(t, fields["Last challenge"], "Merge Intervals")

	handler = runSlash(t, bot, testAdminID, []string{testAdminRole}, commandChallenge, subcommandOpt("post"))
	assert.Equal(t, "🔒 Access Denied", handler.lastEmbed(t).Title)
}

func TestComponentChallengeHint(t *testing.T) {
	t.Parallel()
	srv := newLeetCodeServer(t, http.StatusOK, testLeetCodeResponse)
	bot, _ := newChallengeTestBot(t, srv.URL)
	setChallengeChannel(t, bot, testForumID)

	_, err := bot.challenges.Post(context.Background(), testOwnerID)
	require.NoError(t, err)

	handler := newStubInteractionHandler(
		componentInteraction(t, testMemberID, customIDChallengeHint+"merge-intervals"),
	)
	bot.handleInteraction(context.Background(), handler)
	require.NotEmpty(t, handler.responses)
	assert.Equal(t, "❌ AI not configured", handler.responses[0].Data.Content)

	groq := &fakeChatClient{answer: "Sort by start time first."}
	setAIProviders(bot.ai, groq, nil)

	handler = newStubInteractionHandler(
		componentInteraction(t, testMemberID, customIDChallengeHint+"merge-intervals"),
	)
	bot.handleInteraction(context.Background(), handler)
	embed := handler.lastEmbed(t)
	assert.Equal(t, "🤖 AI Hint", embed.Title)
	assert.Equal(t, "Sort by start time first.", embed.Description)

	msgs := groq.lastRequest(t).Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "merge all overlapping intervals")
	assert.True(t, strings.HasPrefix(msgs[0].Content, systemPrompts[taskQuickAnswer]))
}
