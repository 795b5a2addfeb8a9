package ports

import (
	"SelamBot/internal/core/domain"
	"context"
)

// --- Bot Message Structures ---

// Button represents a single button in a keyboard.
type Button struct {
	Text           string
	Data           string // For callbacks
	URL            string // For URL buttons
	RequestContact bool   // Reply keyboards only
}

// ReplyMarkup represents any kind of keyboard markup.
type ReplyMarkup struct {
	Buttons  [][]Button
	IsInline bool // Differentiates between Inline and Reply keyboards
}

// SendMessageParams holds all possible options for sending a message.
type SendMessageParams struct {
	ChatID         int64
	Text           string
	ParseMode      string // e.g., "MarkdownV2" or "HTML"
	ReplyMarkup    *ReplyMarkup
	RemoveKeyboard bool
}

// AnswerCallbackParams acknowledges an inline-button press.
type AnswerCallbackParams struct {
	CallbackQueryID string
	Text            string
	ShowAlert       bool
}

// --- Bot Client Port (Outbound) ---

// BotClientPort defines the interface for *sending* messages.
type BotClientPort interface {
	SendMessage(ctx context.Context, params SendMessageParams) error
	AnswerCallbackQuery(ctx context.Context, params AnswerCallbackParams) error
	SetMenuCommands(ctx context.Context) error
}

// --- Bot Handler Port (Inbound) ---

// ContactInfo is a shared-contact attachment on a message.
type ContactInfo struct {
	PhoneNumber string
	UserID      int64
}

// BotUpdate represents a simplified, generic update.
type BotUpdate struct {
	MessageID       int
	ChatID          int64
	UserID          int64
	Text            string
	Command         string
	CallbackQueryID string
	CallbackData    *string
	Contact         *ContactInfo
}

// CommandHandler defines the "plugin" interface for handling bot commands.
// The router resolves the user and holds its per-user lock before calling.
type CommandHandler interface {
	// Command returns the command string (without the "/")
	Command() string
	// Handle processes the update.
	Handle(ctx context.Context, update *BotUpdate, user *domain.User) error
}

// CallbackHandler defines the interface for handling callback queries.
type CallbackHandler interface {
	// Prefix returns the prefix for the callback (e.g., "plan_")
	Prefix() string
	// Handle processes the callback.
	Handle(ctx context.Context, update *BotUpdate, user *domain.User) error
}

// MessageHandler is the single stage-machine handler for plain messages.
type MessageHandler interface {
	Handle(ctx context.Context, update *BotUpdate, user *domain.User) error
}
