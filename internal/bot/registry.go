package bot

import (
	"SelamBot/internal/core/payment"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/core/quota"
	"SelamBot/internal/shared/config"

	"github.com/rs/zerolog"
)

// HandlerDeps bundles everything a handler constructor may need.
// main.go builds one and hands it to RegisterAllHandlers.
type HandlerDeps struct {
	Cfg      *config.Config
	UserRepo ports.UserRepository
	Bot      ports.BotClientPort
	Quota    *quota.Tracker
	Payments *payment.Orchestrator
	AI       ports.CompletionPort
	Security ports.SecurityPort
	Logger   *zerolog.Logger
}

// --- Handler "constructor" types ---

type CommandHandlerConstructor func(deps *HandlerDeps) ports.CommandHandler

type CallbackHandlerConstructor func(deps *HandlerDeps) ports.CallbackHandler

type MessageHandlerConstructor func(deps *HandlerDeps) ports.MessageHandler

// --- Global registries, filled by handler init() functions ---

var (
	commandRegistry  []CommandHandlerConstructor
	callbackRegistry []CallbackHandlerConstructor
	messageHandler   MessageHandlerConstructor
)

// RegisterCommand is called by handlers in their init() function.
func RegisterCommand(constructor CommandHandlerConstructor) {
	commandRegistry = append(commandRegistry, constructor)
}

// RegisterCallback is called by callback handlers in their init().
func RegisterCallback(constructor CallbackHandlerConstructor) {
	callbackRegistry = append(callbackRegistry, constructor)
}

// RegisterMessage registers the single global stage-machine handler.
func RegisterMessage(constructor MessageHandlerConstructor) {
	messageHandler = constructor
}

// RegisterAllHandlers builds all registered handlers and wires them into
// the router. Called once from main.go.
func RegisterAllHandlers(deps *HandlerDeps, router *Router) {
	log := deps.Logger.With().Str("component", "registry").Logger()

	for _, constructor := range commandRegistry {
		router.RegisterCommandHandler(constructor(deps))
	}

	for _, constructor := range callbackRegistry {
		router.RegisterCallbackHandler(constructor(deps))
	}

	if messageHandler != nil {
		router.SetMessageHandler(messageHandler(deps))
		log.Info().Msg("Registered main message handler")
	}
}
