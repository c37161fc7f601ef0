package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Bot delivers creator sale notifications and tells creators their chat id
type Bot struct {
	bot *bot.Bot
	log *slog.Logger
}

// New creates a new telegram bot
func New(token string, log *slog.Logger, opts ...bot.Option) (*Bot, error) {
	b := &Bot{log: log}

	opts = append([]bot.Option{bot.WithDefaultHandler(b.defaultHandler)}, opts...)
	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	b.bot = tgBot

	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

func (b *Bot) startHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	text := fmt.Sprintf(
		"👋 Sale notifications for your posts arrive in this chat.\n\n"+
			"Your chat id: <code>%d</code>\n"+
			"Add it to your creator profile to receive them.",
		update.Message.Chat.ID,
	)
	if err := b.SendNotification(ctx, update.Message.Chat.ID, text); err != nil {
		b.log.Error("send start reply", "error", err, "chat_id", update.Message.Chat.ID)
	}
}

func (b *Bot) defaultHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.log.Debug("ignoring message", "chat_id", update.Message.Chat.ID)
}

// SendNotification sends an HTML message with link previews disabled
func (b *Bot) SendNotification(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}
