// Package bot is the event dispatcher: it receives Telegram updates,
// resolves or creates the user record, serializes all work per user, runs
// the lazy subscription-expiry check, and routes to the registered
// command, callback and stage-machine handlers.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/locker"
	"SelamBot/internal/shared/messages"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// conflictRetries bounds how often a dispatch restarts after an
// optimistic-concurrency conflict. The end user never sees a conflict.
const conflictRetries = 3

// Router is the "Bot Facade." It holds all "plugins"
// and routes incoming updates to the correct handler.
type Router struct {
	log              zerolog.Logger
	userRepo         ports.UserRepository
	botClient        ports.BotClientPort
	locks            *locker.KeyedMutex
	now              func() time.Time
	commandHandlers  map[string]ports.CommandHandler
	callbackHandlers map[string]ports.CallbackHandler
	messageHandler   ports.MessageHandler
}

// NewRouter creates a new bot facade/router.
func NewRouter(
	userRepo ports.UserRepository,
	botClient ports.BotClientPort,
	locks *locker.KeyedMutex,
	baseLogger *zerolog.Logger,
) *Router {
	return &Router{
		log:              baseLogger.With().Str("component", "router").Logger(),
		userRepo:         userRepo,
		botClient:        botClient,
		locks:            locks,
		now:              time.Now,
		commandHandlers:  make(map[string]ports.CommandHandler),
		callbackHandlers: make(map[string]ports.CallbackHandler),
	}
}

// RegisterCommandHandler adds a "plugin" to the router.
func (r *Router) RegisterCommandHandler(handler ports.CommandHandler) {
	cmd := handler.Command()
	r.commandHandlers[cmd] = handler
	r.log.Info().Str("command", cmd).Msg("Registered new command handler")
}

// RegisterCallbackHandler adds a "plugin" to the router.
func (r *Router) RegisterCallbackHandler(handler ports.CallbackHandler) {
	prefix := handler.Prefix()
	r.callbackHandlers[prefix] = handler
	r.log.Info().Str("prefix", prefix).Msg("Registered new callback handler")
}

// SetMessageHandler registers the single, global stage-machine handler.
func (r *Router) SetMessageHandler(handler ports.MessageHandler) {
	r.messageHandler = handler
}

// HandleUpdate is the main entry point for a new update from Telegram.
// All work for one user happens under that user's lock; a duplicate
// delivery or a racing payment callback waits its turn.
func (r *Router) HandleUpdate(ctx context.Context, update *tgbotapi.Update) {
	botUpdate, isSupported := r.parseUpdate(update)
	if !isSupported {
		r.log.Warn().Interface("update", update).Msg("Received unsupported update type")
		return
	}

	ctxLogger := r.log.With().
		Int64("user_id", botUpdate.UserID).
		Int64("chat_id", botUpdate.ChatID).
		Logger()
	ctx = ctxLogger.WithContext(ctx)

	unlock := r.locks.Lock(botUpdate.UserID)
	defer unlock()

	for attempt := 0; attempt <= conflictRetries; attempt++ {
		err := r.dispatch(ctx, botUpdate)
		if errors.Is(err, domain.ErrStorageConflict) {
			ctxLogger.Warn().Int("attempt", attempt+1).Msg("Storage conflict, re-dispatching from fresh read")
			continue
		}
		if err != nil {
			ctxLogger.Error().Err(err).Msg("Handler failed")
		}
		return
	}
	ctxLogger.Error().Msg("Giving up on update after repeated storage conflicts")
}

// dispatch runs one attempt: fresh read, expiry check, route.
func (r *Router) dispatch(ctx context.Context, botUpdate *ports.BotUpdate) error {
	log := zerolog.Ctx(ctx)

	user, err := r.userRepo.GetByTelegramID(ctx, botUpdate.UserID)
	if err != nil {
		// Storage failure is fatal to this event only, never the process.
		log.Error().Err(err).Msg("Failed to load user")
		r.sendInternalError(ctx, botUpdate.ChatID)
		return nil
	}

	if user == nil {
		user = &domain.User{
			ID:         uuid.New(),
			TelegramID: botUpdate.UserID,
			Stage:      domain.StageInitial,
		}
		if err := r.userRepo.Create(ctx, user); err != nil {
			log.Error().Err(err).Msg("Failed to create new user")
			r.sendInternalError(ctx, botUpdate.ChatID)
			return nil
		}
		log.Info().Str("user_id", user.ID.String()).Msg("New user created")
	}

	// Lazy expiry check on every entry: a paid user whose expiry passed
	// must not consume paid quota just because the sweep hasn't run.
	if user.Subscription.Status == domain.SubscriptionActive && !user.Subscription.IsActive(r.now()) {
		user.ExpireSubscription()
		if err := r.userRepo.Update(ctx, user); err != nil {
			return err
		}
		log.Info().Str("user_id", user.ID.String()).Msg("Subscription lapsed, stage moved to expired")
	}

	if botUpdate.Command != "" {
		handler, ok := r.commandHandlers[botUpdate.Command]
		if !ok {
			// An unknown command must not reach the stage machine, where
			// a trial user would spend a quota message on "/help".
			log.Warn().Str("command", botUpdate.Command).Msg("No handler for command")
			return r.botClient.SendMessage(ctx, messages.NewBuilder(botUpdate.ChatID).
				WithText("I don't know that command. Try /start, /status or /cancel.").
				WithParseMode("").
				Build())
		}
		log.Info().Str("handler", botUpdate.Command).Msg("Routing to command handler")
		return handler.Handle(ctx, botUpdate, user)
	}

	if botUpdate.CallbackData != nil {
		for prefix, handler := range r.callbackHandlers {
			if strings.HasPrefix(*botUpdate.CallbackData, prefix) {
				log.Info().Str("handler", prefix).Str("data", *botUpdate.CallbackData).Msg("Routing to callback handler")
				return handler.Handle(ctx, botUpdate, user)
			}
		}
		log.Warn().Str("data", *botUpdate.CallbackData).Msg("No callback handler found")
		return nil
	}

	if r.messageHandler != nil {
		log.Info().Str("stage", string(user.Stage)).Msg("Routing message to stage handler")
		return r.messageHandler.Handle(ctx, botUpdate, user)
	}

	log.Info().Str("text", botUpdate.Text).Msg("Received unhandled message (no handler)")
	return nil
}

// sendInternalError tells the user something went wrong, in plain text.
func (r *Router) sendInternalError(ctx context.Context, chatID int64) {
	msg := messages.NewBuilder(chatID).
		WithText("An internal error occurred. Please try again later.").
		WithParseMode("").
		Build()
	if err := r.botClient.SendMessage(ctx, msg); err != nil {
		r.log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send error message")
	}
}

// parseUpdate converts a tgbotapi.Update into our internal, simplified struct.
func (r *Router) parseUpdate(update *tgbotapi.Update) (*ports.BotUpdate, bool) {
	if update.CallbackQuery != nil {
		cb := update.CallbackQuery
		botUpdate := &ports.BotUpdate{
			UserID:          cb.From.ID,
			ChatID:          cb.From.ID,
			CallbackQueryID: cb.ID,
			CallbackData:    &cb.Data,
		}
		// Message is nil for callbacks on messages older than 48 hours.
		// All our chats are private, so the sender's ID doubles as the
		// chat ID when that happens.
		if cb.Message != nil {
			botUpdate.MessageID = cb.Message.MessageID
			botUpdate.ChatID = cb.Message.Chat.ID
		}
		return botUpdate, true
	}

	if update.Message != nil {
		msg := update.Message

		var contactInfo *ports.ContactInfo
		if msg.Contact != nil {
			contactInfo = &ports.ContactInfo{
				PhoneNumber: msg.Contact.PhoneNumber,
				UserID:      msg.Contact.UserID,
			}
		}

		return &ports.BotUpdate{
			MessageID: msg.MessageID,
			ChatID:    msg.Chat.ID,
			UserID:    msg.From.ID,
			Text:      msg.Text,
			Command:   msg.Command(),
			Contact:   contactInfo,
		}, true
	}

	return nil, false // Unsupported update
}
