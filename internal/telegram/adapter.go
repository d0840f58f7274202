// Package telegram delivers operator alerts to a Telegram chat and answers
// a few read-only lookup commands there.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/rungov/internal/alert"
	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/types"
	"github.com/user/rungov/internal/workflow"
)

const maxTelegramMessage = 4096

// Prefix is the alert target prefix handled by this package.
const Prefix = "telegram:"

// Sender is the part of the bot API used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter posts alerts and answers /run and /session lookups.
type Adapter struct {
	bot       *tgbotapi.BotAPI
	sender    Sender
	artifacts types.ArtifactReader
	sessions  *workflow.Manager
	chatID    int64
}

// New creates a Telegram adapter. Commands are only answered in chatID
// when it is non-zero.
func New(token string, chatID int64, artifacts types.ArtifactReader, sessions *workflow.Manager) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := NewWithSender(bot, chatID, artifacts, sessions)
	a.bot = bot
	return a, nil
}

// NewWithSender creates an adapter without polling support.
func NewWithSender(sender Sender, chatID int64, artifacts types.ArtifactReader, sessions *workflow.Manager) *Adapter {
	return &Adapter{
		sender:    sender,
		artifacts: artifacts,
		sessions:  sessions,
		chatID:    chatID,
	}
}

// Target is the alert target for the configured chat.
func (a *Adapter) Target() string {
	return Prefix + strconv.FormatInt(a.chatID, 10)
}

// AlertHandler returns an alert.Handler for "telegram:<chat id>" targets.
func (a *Adapter) AlertHandler() alert.Handler {
	return func(target string, al alert.Alert) error {
		chatID, err := strconv.ParseInt(strings.TrimPrefix(target, Prefix), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid telegram target %q: %w", target, err)
		}
		return a.sendResponse(chatID, "ALERT: "+al.Text())
	}
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	if a.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if a.chatID != 0 && chatID != a.chatID {
		slog.Warn("ignoring telegram message from unknown chat", "chat_id", chatID)
		return
	}
	if !msg.IsCommand() {
		a.reply(chatID, helpText)
		return
	}
	a.reply(chatID, a.handleCommand(ctx, msg.Command(), strings.TrimSpace(msg.CommandArguments())))
}

const helpText = "Available: /run <run_id>, /verify <run_id>, /session <session_id>"

func (a *Adapter) handleCommand(ctx context.Context, cmd, arg string) string {
	switch cmd {
	case "start", "help":
		return helpText
	case "run":
		art, msg := a.lookupRun(ctx, arg)
		if art == nil {
			return msg
		}
		return formatRun(art)
	case "verify":
		art, msg := a.lookupRun(ctx, arg)
		if art == nil {
			return msg
		}
		if err := digest.VerifyArtifact(art); err != nil {
			return fmt.Sprintf("Run %s FAILED verification: %v", art.RunID, err)
		}
		return fmt.Sprintf("Run %s verified.", art.RunID)
	case "session":
		if a.sessions == nil {
			return "Workflow sessions are not configured."
		}
		if arg == "" {
			return "Usage: /session <session_id>"
		}
		s, err := a.sessions.Get(ctx, types.SessionID(arg))
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return "Session not found."
			}
			slog.Error("telegram session lookup failed", "session_id", arg, "error", err)
			return "Error fetching session."
		}
		return formatSession(s)
	default:
		return "Unknown command. " + helpText
	}
}

func (a *Adapter) lookupRun(ctx context.Context, arg string) (*types.RunArtifact, string) {
	if a.artifacts == nil {
		return nil, "Artifact store is not configured."
	}
	if arg == "" {
		return nil, "Usage: /run <run_id>"
	}
	art, found, err := a.artifacts.Get(ctx, types.RunID(arg))
	if err != nil {
		slog.Error("telegram run lookup failed", "run_id", arg, "error", err)
		return nil, "Error fetching run."
	}
	if !found {
		return nil, "Run not found."
	}
	return art, ""
}

func formatRun(art *types.RunArtifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\nStatus: %s\nMode: %s\nTool: %s\nRisk: %s\nCreated: %s",
		art.RunID, art.Status, art.Mode, art.ToolID, art.Decision.RiskLevel, art.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	if art.Decision.BlockReason != "" {
		fmt.Fprintf(&b, "\nBlocked: %s", art.Decision.BlockReason)
	}
	if ov := art.Decision.Override; ov != nil {
		fmt.Fprintf(&b, "\nOverride by %s: %s", ov.Actor, ov.Reason)
	}
	for _, w := range art.Decision.Warnings {
		fmt.Fprintf(&b, "\nWarning: %s", w)
	}
	for _, e := range art.Errors {
		fmt.Fprintf(&b, "\nError: %s", e)
	}
	return b.String()
}

func formatSession(s *workflow.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\nState: %s\nDesign: %s", s.ID(), s.State(), s.DesignRef())
	if id := s.FeasibilityRunID(); id != "" {
		fmt.Fprintf(&b, "\nFeasibility run: %s", id)
	}
	if id := s.ToolpathsRunID(); id != "" {
		fmt.Fprintf(&b, "\nToolpaths run: %s", id)
	}
	fmt.Fprintf(&b, "\nTransitions: %d", len(s.History()))
	return b.String()
}

func (a *Adapter) reply(chatID int64, text string) {
	if err := a.sendResponse(chatID, text); err != nil {
		slog.Error("send telegram message failed", "chat_id", chatID, "error", err)
	}
}

// sendResponse sends text as plain messages; run ids and reasons are not
// safe to parse as Markdown.
func (a *Adapter) sendResponse(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		if _, err := a.sender.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks Telegram accepts, preferring to break
// after a newline.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		if i := strings.LastIndexByte(text[:end], '\n'); i > 0 {
			end = i + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
