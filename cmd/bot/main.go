package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/whosfree/pkg/calendar"
	"github.com/korjavin/whosfree/pkg/config"
	"github.com/korjavin/whosfree/pkg/event"
	"github.com/korjavin/whosfree/pkg/logger"
	"github.com/korjavin/whosfree/pkg/messages"
	"github.com/korjavin/whosfree/pkg/scheduler"
	"github.com/korjavin/whosfree/pkg/snapshot"
	"github.com/korjavin/whosfree/pkg/state"
	"github.com/korjavin/whosfree/pkg/storage"
	"github.com/korjavin/whosfree/pkg/telegram"
	"github.com/korjavin/whosfree/pkg/trigger"
)

func main() {
	// Initialize logger
	log := logger.Global
	log.Info("Starting WhosFree bot...")

	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DataDir)
	if err != nil {
		log.Error("Failed to initialize storage: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize Telegram bot
	bot, err := telegram.New(cfg.BotToken)
	if err != nil {
		log.Error("Failed to initialize Telegram bot: %v", err)
		os.Exit(1)
	}

	// Initialize services
	calendarService := calendar.New(store, bot)
	registry := event.NewRegistry()
	dispatcher := event.NewDispatcher(registry, calendarService, cfg.TimeoutTicks)
	snapshotStore := snapshot.New(store)
	prompts := state.New()

	// Restore persisted events, reconciling against the live calendar
	snap, err := snapshotStore.Load()
	if err != nil {
		log.Error("Failed to load snapshot: %v", err)
		os.Exit(1)
	}
	snapshotStore.Reconcile(snap, registry, calendarService)

	loop := scheduler.New(registry, calendarService, bot, snapshotStore, cfg.GraceMinutes, cfg.TimeoutTicks)

	// createEvent is shared by the /schedule command and the trigger listener
	createEvent := func(req trigger.Request) error {
		if req.Name == "" || req.ChatID == 0 || req.Duration <= 0 {
			return fmt.Errorf("a scheduling request needs a name, a chat and a duration")
		}

		e := event.New(req.Name, req.ChatID, req.ThreadID, req.VenueID, req.InitiatorID, req.Duration, req.MultiEvent, cfg.TimeoutTicks)
		e.ImageURL = req.ImageURL
		if req.Exclude {
			// Telegram cannot enumerate group members, so exclusion mode
			// opens enrollment to everyone except the listed usernames
			e.SetOpenEnrollment(req.Usernames)
		} else {
			for _, username := range req.Usernames {
				e.AddParticipant(0, strings.TrimPrefix(username, "@"))
			}
		}
		if len(req.Roles) > 0 {
			log.Warn("Ignoring role list for %q: the chat platform has no roles", req.Name)
		}

		if err := registry.Add(e); err != nil {
			return err
		}

		msgID, err := bot.SendPrompt(req.ChatID, messages.AvailabilityPrompt(req.Name, e.ParticipantNames(), req.Duration), req.Name)
		if err != nil {
			log.Error("Failed to send prompt for %q: %v", req.Name, err)
		} else {
			e.SetAvailabilityMsg(msgID)
		}

		loop.Persist()
		log.Info("Created event %q in chat %d", req.Name, req.ChatID)
		return nil
	}

	// dispatch routes a user action and persists structural changes
	dispatch := func(cmd event.Command) string {
		reply, err := dispatcher.Handle(cmd)
		if err != nil {
			return err.Error()
		}
		loop.Persist()
		return reply
	}

	// Setup command handlers
	commandHandlers := map[string]telegram.CommandHandler{
		"schedule": func(message *tgbotapi.Message) {
			// /schedule <name> <duration-minutes> [multi] [@user ...]
			args := strings.Fields(message.CommandArguments())
			if len(args) < 2 {
				bot.SendMessage(message.Chat.ID, "Usage: /schedule <name> <duration-minutes> [multi] [@user ...]")
				return
			}

			duration, err := strconv.Atoi(args[1])
			if err != nil || duration <= 0 {
				bot.SendMessage(message.Chat.ID, "The duration must be a number of minutes.")
				return
			}

			rest := args[2:]
			multi := false
			if len(rest) > 0 && strings.EqualFold(rest[0], "multi") {
				multi = true
				rest = rest[1:]
			}
			usernames := rest
			if len(usernames) == 0 && message.From != nil {
				usernames = []string{message.From.UserName}
			}

			err = createEvent(trigger.Request{
				Name:        args[0],
				ChatID:      message.Chat.ID,
				InitiatorID: int64From(message),
				Usernames:   usernames,
				Duration:    duration,
				MultiEvent:  multi,
			})
			if err != nil {
				bot.SendMessage(message.Chat.ID, err.Error())
			}
		},
		"cancel":     singleEventCommand(bot, dispatch, event.ActionCancelEvent),
		"reschedule": singleEventCommand(bot, dispatch, event.ActionReschedule),
		"begin":      singleEventCommand(bot, dispatch, event.ActionStart),
		"finish":     singleEventCommand(bot, dispatch, event.ActionEnd),
	}

	// Action buttons under the availability prompt
	actionHandler := func(action event.Action, eventName string, callback *tgbotapi.CallbackQuery) {
		chatID := callback.Message.Chat.ID
		if action == event.ActionAnswer {
			// The next text message from this user answers the prompt
			prompts.Expect(chatID, callback.From.ID, eventName)
			bot.AnswerCallback(callback.ID, "Send your time ranges, e.g. 8-11, 15-17 ET")
			return
		}

		reply := dispatch(event.Command{
			Action:    action,
			ChatID:    chatID,
			EventName: eventName,
			MemberID:  callback.From.ID,
			Username:  callback.From.UserName,
		})
		bot.AnswerCallback(callback.ID, reply)
	}

	// Plain text messages answer an outstanding availability prompt
	textHandler := func(message *tgbotapi.Message) {
		eventName, ok := prompts.Claim(message.Chat.ID, message.From.ID)
		if !ok {
			return
		}
		reply := dispatch(event.Command{
			Action:    event.ActionAnswer,
			ChatID:    message.Chat.ID,
			EventName: eventName,
			MemberID:  message.From.ID,
			Username:  message.From.UserName,
			Payload:   message.Text,
		})
		bot.SendMessage(message.Chat.ID, reply)
	}

	// Start the control loop
	if err := loop.Start(cfg.TickSeconds); err != nil {
		log.Error("Failed to start control loop: %v", err)
		os.Exit(1)
	}

	// Start the trigger listener
	listener := trigger.New(createEvent)
	if err := listener.Start(cfg.TriggerHost, cfg.TriggerPort); err != nil {
		log.Error("Failed to start trigger listener: %v", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down...")
		listener.Stop()
		loop.Stop()
		loop.Persist()
		store.Close()
		os.Exit(0)
	}()

	// Start the bot
	log.Info("Bot is now running. Press CTRL-C to exit.")
	if err := bot.Start(commandHandlers, actionHandler, textHandler); err != nil {
		log.Error("Error running bot: %v", err)
		os.Exit(1)
	}
}

// singleEventCommand builds a handler for commands of the form /<cmd> <name>
func singleEventCommand(bot *telegram.Bot, dispatch func(event.Command) string, action event.Action) telegram.CommandHandler {
	return func(message *tgbotapi.Message) {
		name := strings.TrimSpace(message.CommandArguments())
		if name == "" {
			bot.SendMessage(message.Chat.ID, "Which event? Add its name after the command.")
			return
		}
		reply := dispatch(event.Command{
			Action:    action,
			ChatID:    message.Chat.ID,
			EventName: name,
			MemberID:  int64From(message),
			Username:  usernameFrom(message),
		})
		bot.SendMessage(message.Chat.ID, reply)
	}
}

func int64From(message *tgbotapi.Message) int64 {
	if message.From == nil {
		return 0
	}
	return message.From.ID
}

func usernameFrom(message *tgbotapi.Message) string {
	if message.From == nil {
		return ""
	}
	return message.From.UserName
}
