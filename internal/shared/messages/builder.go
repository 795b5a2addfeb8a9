package messages

import (
	"fmt"

	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/config"
)

// Builder helps construct complex SendMessageParams.
type Builder struct {
	params ports.SendMessageParams
}

// NewBuilder creates a new message builder.
func NewBuilder(chatID int64) *Builder {
	return &Builder{
		params: ports.SendMessageParams{
			ChatID:    chatID,
			ParseMode: "MarkdownV2", // Default to Markdown
		},
	}
}

// WithText sets the message text.
func (b *Builder) WithText(text string) *Builder {
	b.params.Text = text
	return b
}

// WithParseMode overrides the default parse mode.
func (b *Builder) WithParseMode(mode string) *Builder {
	b.params.ParseMode = mode
	return b
}

// WithRemoveKeyboard adds a flag to remove the reply keyboard.
func (b *Builder) WithRemoveKeyboard() *Builder {
	b.params.RemoveKeyboard = true
	b.params.ReplyMarkup = nil // Ensure no other markup is set
	return b
}

// WithContactButton adds a "Share Contact" reply keyboard.
func (b *Builder) WithContactButton(text string) *Builder {
	b.params.RemoveKeyboard = false
	b.params.ReplyMarkup = &ports.ReplyMarkup{
		IsInline: false,
		Buttons: [][]ports.Button{
			{
				{Text: text, RequestContact: true},
			},
		},
	}
	return b
}

// WithInlineButtons adds a set of inline buttons.
func (b *Builder) WithInlineButtons(buttons [][]ports.Button) *Builder {
	b.params.RemoveKeyboard = false
	b.params.ReplyMarkup = &ports.ReplyMarkup{
		IsInline: true,
		Buttons:  buttons,
	}
	return b
}

// WithPlanButtons adds one inline button per purchasable plan.
func (b *Builder) WithPlanButtons(plans map[domain.PlanType]config.PlanConfig, currency string) *Builder {
	return b.WithInlineButtons(PlanKeyboard(plans, currency))
}

// WithConsentButtons adds the accept/decline consent keyboard.
func (b *Builder) WithConsentButtons() *Builder {
	return b.WithInlineButtons([][]ports.Button{
		{
			{Text: "✅ I agree", Data: "consent_accept"},
			{Text: "❌ Not now", Data: "consent_decline"},
		},
	})
}

// Build returns the final SendMessageParams struct.
func (b *Builder) Build() ports.SendMessageParams {
	return b.params
}

// planOrder fixes the keyboard layout; map iteration order is random.
var planOrder = []domain.PlanType{domain.PlanWeekly, domain.PlanMonthly}

// planLabels are the human names shown on buttons.
var planLabels = map[domain.PlanType]string{
	domain.PlanWeekly:  "Weekly",
	domain.PlanMonthly: "Monthly",
}

// PlanKeyboard builds an inline keyboard with one row per configured plan.
// Callback data is "plan_" + the plan type.
func PlanKeyboard(plans map[domain.PlanType]config.PlanConfig, currency string) [][]ports.Button {
	var rows [][]ports.Button
	for _, plan := range planOrder {
		p, ok := plans[plan]
		if !ok {
			continue
		}
		label := fmt.Sprintf("%s: %d %s (%d days)",
			planLabels[plan], p.Amount/100, currency, p.DurationDays)
		rows = append(rows, []ports.Button{
			{Text: label, Data: "plan_" + string(plan)},
		})
	}
	return rows
}
