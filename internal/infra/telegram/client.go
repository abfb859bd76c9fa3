package telegram

import (
	"gopkg.in/telebot.v3"
)

// Sender is the narrow slice of bot functionality the notifier needs,
// decoupling it from the telebot library for testing.
type Sender interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}

// TelebotAdapter implements Sender using gopkg.in/telebot.v3.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the given direct chat.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}
	recipient := &telebot.User{ID: recipientChatID}
	_, err := tba.bot.Send(recipient, text, options)
	return err
}
