package menu

import "github.com/go-telegram/bot/models"

// ToInlineKeyboard converts a rendered menu into a Telegram inline keyboard.
func ToInlineKeyboard(m RenderedMenu) *models.InlineKeyboardMarkup {
	keyboard := make([][]models.InlineKeyboardButton, 0, len(m.Rows))

	for _, row := range m.Rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, toInlineButton(btn))
		}
		keyboard = append(keyboard, buttons)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

func toInlineButton(btn Button) models.InlineKeyboardButton {
	out := models.InlineKeyboardButton{Text: btn.Label}

	switch btn.Action.Kind {
	case ActionOpenURL:
		out.URL = btn.Action.Value
	case ActionOpenWebApp:
		out.WebApp = &models.WebAppInfo{URL: btn.Action.Value}
	case ActionSwitchInline:
		out.SwitchInlineQuery = btn.Action.Value
	default:
		out.CallbackData = btn.Action.Value
	}

	return out
}
