package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/whosfree/pkg/event"
	"github.com/korjavin/whosfree/pkg/logger"
)

// Bot represents a Telegram bot instance
type Bot struct {
	api    *tgbotapi.BotAPI
	logger *logger.Logger
}

// CommandHandler is a function that handles a Telegram command
type CommandHandler func(message *tgbotapi.Message)

// ActionHandler is a function that handles an inline action button press
type ActionHandler func(action event.Action, eventName string, callback *tgbotapi.CallbackQuery)

// TextHandler is a function that handles a plain text message
type TextHandler func(message *tgbotapi.Message)

// New creates a new Telegram bot instance
func New(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	bot := &Bot{
		api:    api,
		logger: logger.New("telegram"),
	}

	bot.logger.Info("Telegram bot created: @%s", api.Self.UserName)
	return bot, nil
}

// Start starts the bot and listens for updates
func (b *Bot) Start(commandHandlers map[string]CommandHandler, actionHandler ActionHandler, textHandler TextHandler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		// Handle commands
		if update.Message != nil && update.Message.IsCommand() {
			command := update.Message.Command()
			if handler, ok := commandHandlers[command]; ok {
				b.logger.Info("Handling command: %s from user %s", command, update.Message.From.UserName)
				handler(update.Message)
			}
			continue
		}

		// Handle action button presses; callback data is "action|eventName"
		if update.CallbackQuery != nil {
			parts := strings.SplitN(update.CallbackQuery.Data, "|", 2)
			if len(parts) == 2 && actionHandler != nil {
				b.logger.Info("Handling action: %s from user %s", update.CallbackQuery.Data, update.CallbackQuery.From.UserName)
				actionHandler(event.Action(parts[0]), parts[1], update.CallbackQuery)
			}
			continue
		}

		// Plain text messages may be availability answers
		if update.Message != nil && update.Message.Text != "" && textHandler != nil {
			textHandler(update.Message)
		}
	}

	return nil
}

// SendMessage sends a text message to a chat and returns the message ID
func (b *Bot) SendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessage edits a message
func (b *Bot) EditMessage(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	_, err := b.api.Send(edit)
	return err
}

// DeleteMessage deletes a message
func (b *Bot) DeleteMessage(chatID int64, messageID int) error {
	_, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// SendPrompt sends the availability prompt with the action buttons for an
// event and returns the message ID.
func (b *Bot) SendPrompt(chatID int64, text, eventName string) (int, error) {
	button := func(label string, action event.Action) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s|%s", action, eventName))
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("Answer", event.ActionAnswer),
			button("Free all day", event.ActionSetFull),
			button("Can't make it", event.ActionSetNone),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("Unsubscribe", event.ActionUnsubscribe),
			button("Vote to cancel", event.ActionCancelVote),
		),
	)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboard
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// AnswerCallback acknowledges an action button press with a short note
func (b *Bot) AnswerCallback(callbackID string, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	_, err := b.api.Request(callback)
	return err
}
