package crevion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/patrickmn/go-cache"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	aiProviderGroq     = "Groq"
	aiProviderDeepSeek = "DeepSeek"

	aiMessageMaxLength = 1950
	aiMaxMessages      = 5
)

// Task types, detected from the request and used to pick a provider and
// a system prompt.
const (
	taskCodeGeneration  = "code_generation"
	taskCodeExplanation = "code_explanation"
	taskCodeReview      = "code_review"
	taskDebugging       = "debugging"
	taskOptimization    = "optimization"
	taskGeneral         = "general"
	taskDesign          = "design"
	taskQuickAnswer     = "quick_answer"
)

var (
	ErrAINotConfigured = errors.New("no AI provider configured")
	ErrAIEmptyResponse = errors.New("empty AI response")

	arabicPattern    = regexp.MustCompile(`[\x{0600}-\x{06FF}]`)
	paragraphPattern = regexp.MustCompile(`\n\n+`)
	sentencePattern  = regexp.MustCompile(`[^.!?]+(?:[.!?]+\s*|$)`)
)

// deepSeekTasks are routed to DeepSeek first. Everything else goes to Groq.
var deepSeekTasks = map[string]bool{
	taskCodeExplanation: true,
	taskCodeReview:      true,
	taskDebugging:       true,
	taskOptimization:    true,
}

var taskKeywords = []struct {
	task     string
	keywords []string
}{
	{taskCodeGeneration, []string{"write", "create", "generate"}},
	{taskCodeExplanation, []string{"explain", "what is", "how does"}},
	{taskCodeReview, []string{"review", "check"}},
	{taskDebugging, []string{"debug", "fix", "error"}},
	{taskOptimization, []string{"optimize", "performance"}},
	{taskDesign, []string{"design", "ui", "ux"}},
}

const generalPrompt = `You are Crevion AI, an assistant for developers and designers at Crevion Community.

**Your Role:**
- Help developers learn and grow
- Provide clear, practical solutions
- Be encouraging and supportive
- Match the user's language (Arabic or English)

**Expertise:**
- Programming: JavaScript, TypeScript, Python, Go, React, Node.js
- Design: UI/UX, Color Theory, Web Design, CSS
- Problem Solving: Algorithms, Data Structures, Debugging

**Rules:**
- Never mention your model name
- Never sign your responses
- Give complete, working solutions`

var systemPrompts = map[string]string{
	taskGeneral: generalPrompt,
	taskCodeGeneration: `You are an expert programmer. Generate clean, production-ready code.

**Requirements:**
- Include proper error handling
- Follow best practices
- Add clear comments
- Use modern syntax`,
	taskCodeExplanation: `You are a patient teacher. Explain code clearly and thoroughly.

**Guidelines:**
- Start with simple explanations
- Use analogies and examples
- Break down complex topics step-by-step`,
	taskCodeReview: `You are a senior engineer reviewing code.

**Cover:**
- Correctness and edge cases
- Readability and naming
- Security issues
- Concrete suggested changes`,
	taskDebugging: `You are a debugging expert. Find issues and provide solutions.

**Approach:**
- Identify all potential bugs
- Explain why they occur
- Provide fixed code`,
	taskOptimization: `You are a performance optimization expert.

**Focus:**
- Identify bottlenecks
- Suggest optimizations
- Explain trade-offs`,
	taskDesign: `You are a UI/UX design expert.

**Provide:**
- Modern design principles
- Color schemes (hex codes)
- Typography suggestions
- Accessibility tips`,
	taskQuickAnswer: `You are a concise assistant. Answer in a few sentences.
Give hints rather than full solutions when asked about coding challenges.`,
}

// detectTaskType picks a task from keywords in the request.
func detectTaskType(message string) string {
	lower := strings.ToLower(message)
	for _, tk := range taskKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				return tk.task
			}
		}
	}
	return taskGeneral
}

// systemPrompt returns the prompt for task, with an instruction to answer
// in the language of message.
func systemPrompt(task, message string) string {
	prompt, ok := systemPrompts[task]
	if !ok {
		prompt = generalPrompt
	}
	if arabicPattern.MatchString(message) {
		return prompt + "\n\n**CRITICAL: User is speaking Arabic. You MUST respond in Arabic only.**"
	}
	return prompt + "\n\n**CRITICAL: User is speaking English. You MUST respond in English only.**"
}

// ChatCompletionClient is the part of the OpenAI client used by the
// assistant.
type ChatCompletionClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

type aiProvider struct {
	name   string
	client ChatCompletionClient
	config AIProviderConfig
}

// aiAnswer is a completed response.
type aiAnswer struct {
	Content    string
	Provider   string
	TokensUsed int
}

// AIAssistant answers questions using Groq, falling back to DeepSeek (or
// the other way around, depending on the task). Conversation history is
// kept per user.
type AIAssistant struct {
	config    *AIConfig
	logger    *slog.Logger
	providers map[string]*aiProvider

	history  *cache.Cache
	limiters *cache.Cache

	// mu serializes history updates
	mu sync.Mutex
}

func newAIAssistant(cfg *AIConfig, httpClient *http.Client, logger *slog.Logger) *AIAssistant {
	a := &AIAssistant{
		config:    cfg,
		logger:    logger,
		providers: map[string]*aiProvider{},
		history:   cache.New(cfg.HistoryTTL, cfg.HistoryTTL),
		limiters:  cache.New(cfg.HistoryTTL, cfg.HistoryTTL),
	}
	for name, pc := range map[string]AIProviderConfig{
		aiProviderGroq:     cfg.Groq,
		aiProviderDeepSeek: cfg.DeepSeek,
	} {
		if pc.APIKey == "" {
			continue
		}
		clientCfg := openai.DefaultConfig(pc.APIKey)
		clientCfg.BaseURL = pc.BaseURL
		if httpClient != nil {
			clientCfg.HTTPClient = httpClient
		}
		a.providers[name] = &aiProvider{
			name:   name,
			client: openai.NewClientWithConfig(clientCfg),
			config: pc,
		}
	}
	return a
}

// Available reports whether any provider is configured.
func (a *AIAssistant) Available() bool {
	return len(a.providers) > 0
}

// providersFor returns the providers to try for task, preferred first.
func (a *AIAssistant) providersFor(task string) []*aiProvider {
	order := []string{aiProviderGroq, aiProviderDeepSeek}
	if deepSeekTasks[task] {
		order = []string{aiProviderDeepSeek, aiProviderGroq}
	}
	var rv []*aiProvider
	for _, name := range order {
		if p, ok := a.providers[name]; ok {
			rv = append(rv, p)
		}
	}
	return rv
}

// Allow reports whether userID may make another request now.
func (a *AIAssistant) Allow(userID string) bool {
	if a.config.UserRateLimit <= 0 {
		return true
	}
	v, ok := a.limiters.Get(userID)
	if !ok {
		lim := rate.NewLimiter(rate.Every(a.config.UserRateLimit), max(a.config.UserBurst, 1))
		if err := a.limiters.Add(userID, lim, cache.DefaultExpiration); err != nil {
			// added concurrently
			v, _ = a.limiters.Get(userID)
		} else {
			v = lim
		}
	}
	lim, ok := v.(*rate.Limiter)
	if !ok {
		return true
	}
	return lim.Allow()
}

func (a *AIAssistant) userHistory(userID string) []openai.ChatCompletionMessage {
	if v, ok := a.history.Get(userID); ok {
		if h, isHistory := v.([]openai.ChatCompletionMessage); isHistory {
			return h
		}
	}
	return nil
}

// remember appends a question and its answer to the user's history,
// dropping the oldest turns past the limit.
func (a *AIAssistant) remember(userID, question, answer string) {
	if a.config.HistoryTurns <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.userHistory(userID)
	h := make([]openai.ChatCompletionMessage, 0, len(prev)+2)
	h = append(h, prev...)
	h = append(
		h,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer},
	)
	if limit := a.config.HistoryTurns * 2; len(h) > limit {
		h = h[len(h)-limit:]
	}
	a.history.SetDefault(userID, h)
}

// ClearHistory forgets the conversation with userID.
func (a *AIAssistant) ClearHistory(userID string) {
	a.history.Delete(userID)
}

// Ask sends message to the provider for task. If the preferred provider
// fails, the other one is tried once. With withHistory, the user's
// conversation is included and updated.
func (a *AIAssistant) Ask(
	ctx context.Context,
	userID string,
	task string,
	message string,
	withHistory bool,
) (aiAnswer, error) {
	providers := a.providersFor(task)
	if len(providers) == 0 {
		return aiAnswer{}, ErrAINotConfigured
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(task, message)},
	}
	if withHistory {
		a.mu.Lock()
		messages = append(messages, a.userHistory(userID)...)
		a.mu.Unlock()
	}
	messages = append(
		messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message},
	)

	var errs []error
	for _, p := range providers {
		answer, err := a.complete(ctx, p, messages)
		if err == nil {
			a.logger.InfoContext(
				ctx, "ai response",
				"provider", p.name,
				"task", task,
				"chars", len(answer.Content),
				"tokens", answer.TokensUsed,
			)
			if withHistory {
				a.remember(userID, message, answer.Content)
			}
			return answer, nil
		}
		a.logger.WarnContext(ctx, "ai provider failed", "provider", p.name, tint.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	return aiAnswer{}, errors.Join(errs...)
}

func (a *AIAssistant) complete(
	ctx context.Context,
	p *aiProvider,
	messages []openai.ChatCompletionMessage,
) (aiAnswer, error) {
	if a.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.RequestTimeout)
		defer cancel()
	}
	resp, err := p.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:       p.config.Model,
			Messages:    messages,
			MaxTokens:   p.config.MaxTokens,
			Temperature: a.config.Temperature,
			TopP:        a.config.TopP,
		},
	)
	if err != nil {
		return aiAnswer{}, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return aiAnswer{}, ErrAIEmptyResponse
	}
	return aiAnswer{
		Content:    resp.Choices[0].Message.Content,
		Provider:   p.name,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// aiErrorMessage is the reply shown when a request fails.
func aiErrorMessage(err error) string {
	msg := "❌ **حدث خطأ**\n\n"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return msg + "استغرق الـ AI وقت طويل للرد. حاول مرة تانية بسؤال أقصر."
	case errors.Is(err, ErrAIEmptyResponse):
		return msg + "الـ AI مردش. حاول تاني."
	case errors.Is(err, ErrAINotConfigured):
		return "⚠️ **AI Not Available**\n\nNo AI APIs configured. Contact bot owner."
	default:
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		if errors.As(err, &apiErr) || errors.As(err, &reqErr) {
			return msg + "الـ AI مش متاح حالياً. جرب تاني بعد شوية."
		}
		return msg + "حاجة غلط حصلت. جرب تاني."
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// splitMessage splits text into chunks of at most maxLen characters,
// breaking on paragraphs, then sentences, then anywhere.
func splitMessage(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if runeLen(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	add := func(piece, sep string) {
		if cur.Len() > 0 && runeLen(cur.String())+runeLen(sep)+runeLen(piece) > maxLen {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
	}

	for _, para := range paragraphPattern.Split(text, -1) {
		if runeLen(para) <= maxLen {
			add(para, "\n\n")
			continue
		}
		flush()
		sentences := sentencePattern.FindAllString(para, -1)
		if strings.Join(sentences, "") != para {
			sentences = []string{para}
		}
		for _, sentence := range sentences {
			if runeLen(sentence) <= maxLen {
				add(sentence, "")
				continue
			}
			flush()
			for _, part := range chunkItems(maxLen, []rune(sentence)...) {
				chunks = append(chunks, string(part))
			}
		}
		flush()
	}
	flush()
	return chunks
}

func aiClearContextButton() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "مسح المحادثة",
					Style:    discordgo.SecondaryButton,
					CustomID: customIDAIClearContext,
					Emoji:    &discordgo.ComponentEmoji{Name: "🗑️"},
				},
			},
		},
	}
}

// aiReplies converts an answer into the messages to send. Answers too long
// for aiMaxMessages are sent as a text file.
func aiReplies(content string) []reply {
	chunks := splitMessage(content, aiMessageMaxLength)
	if len(chunks) > aiMaxMessages {
		return []reply{
			{
				content: "📎 **Full response is too long!**\n*Download the complete answer:*",
				files: []*discordgo.File{
					{
						Name:        fmt.Sprintf("ai-response-%d.txt", time.Now().UnixMilli()),
						ContentType: "text/plain; charset=utf-8",
						Reader:      strings.NewReader(content),
					},
				},
			},
		}
	}
	replies := make([]reply, 0, len(chunks))
	for _, chunk := range chunks {
		replies = append(replies, reply{content: chunk})
	}
	return replies
}

// handleAIMessage answers a message posted in the AI channel.
func (c *Crevion) handleAIMessage(ctx context.Context, m *discordgo.MessageCreate) {
	logger := loggerFrom(ctx, c.logger)
	session := c.discord.session
	send := func(data *discordgo.MessageSend) {
		_, _ = session.ChannelMessageSendComplex(m.ChannelID, data)
	}
	replyTo := func(content string) {
		send(
			&discordgo.MessageSend{
				Content:         content,
				Reference:       m.Reference(),
				AllowedMentions: &discordgo.MessageAllowedMentions{RepliedUser: false},
			},
		)
	}

	if !c.ai.Available() {
		replyTo(aiErrorMessage(ErrAINotConfigured))
		return
	}
	if !c.ai.Allow(m.Author.ID) {
		replyTo("⏳ استنى شوية قبل ما تسأل تاني.")
		return
	}
	question := strings.TrimSpace(m.Content)
	if question == "" {
		return
	}

	_ = session.ChannelTyping(m.ChannelID)
	answer, err := c.ai.Ask(ctx, m.Author.ID, detectTaskType(question), question, true)
	if err != nil {
		logger.ErrorContext(ctx, "ai request failed", tint.Err(err))
		replyTo(aiErrorMessage(err))
		return
	}

	replies := aiReplies(answer.Content)
	for idx, rep := range replies {
		data := &discordgo.MessageSend{Content: rep.content, Files: rep.files}
		if idx == 0 {
			data.Reference = m.Reference()
			data.AllowedMentions = &discordgo.MessageAllowedMentions{RepliedUser: false}
		}
		if idx == len(replies)-1 {
			data.Components = aiClearContextButton()
		}
		send(data)
	}
}

// aiSubcommandPrompt builds the task and prompt for an /ai subcommand.
func aiSubcommandPrompt(r *commandRequest) (task string, prompt string) {
	switch r.subcommand {
	case "code":
		language := r.stringOption("language")
		if language == "" {
			language = "javascript"
		}
		return taskCodeGeneration, fmt.Sprintf("Write %s code for: %s", language, r.stringOption("request"))
	case "explain":
		return taskCodeExplanation, "Explain: " + r.stringOption("topic")
	case "debug":
		return taskDebugging, "Find and fix the bugs in this code:\n```\n" + r.stringOption("code") + "\n```"
	case "review":
		return taskCodeReview, "Review this code:\n```\n" + r.stringOption("code") + "\n```"
	case "optimize":
		return taskOptimization, "Optimize this code:\n```\n" + r.stringOption("code") + "\n```"
	case "design":
		return taskDesign, r.stringOption("request")
	default:
		question := r.stringOption("question")
		return detectTaskType(question), question
	}
}

func (c *Crevion) commandAI(ctx context.Context, r *commandRequest) error {
	if !c.ai.Available() {
		return r.respond(ctx, c, reply{content: aiErrorMessage(ErrAINotConfigured), ephemeral: true})
	}
	userID := r.member.ID
	if !c.ai.Allow(userID) {
		return r.respond(ctx, c, reply{content: "⏳ استنى شوية قبل ما تسأل تاني.", ephemeral: true})
	}

	task, prompt := aiSubcommandPrompt(r)
	if strings.TrimSpace(prompt) == "" {
		return r.respond(ctx, c, reply{content: "❌ Empty request", ephemeral: true})
	}
	if err := r.deferResponse(ctx, c, false); err != nil {
		return err
	}

	answer, err := c.ai.Ask(ctx, userID, task, prompt, false)
	if err != nil {
		loggerFrom(ctx, c.logger).ErrorContext(ctx, "ai request failed", tint.Err(err))
		return r.respond(ctx, c, reply{content: aiErrorMessage(err)})
	}

	replies := aiReplies(answer.Content)
	if err = r.respond(ctx, c, replies[0]); err != nil {
		return err
	}
	for _, rep := range replies[1:] {
		if err = r.followup(ctx, c, rep); err != nil {
			return err
		}
	}
	return nil
}

func (c *Crevion) componentAIClearContext(ctx context.Context, r *commandRequest) error {
	c.ai.ClearHistory(r.member.ID)
	return r.respond(
		ctx, c, reply{
			content:   "✅ **تم مسح المحادثة**\n\nتقدر تبدأ محادثة جديدة دلوقتي!",
			ephemeral: true,
		},
	)
}
