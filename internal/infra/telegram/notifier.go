package telegram

import (
	"context"
	"fmt"

	"event_waitlist_bot/internal/domain/notify"

	"gopkg.in/telebot.v3"
)

// Callback data prefixes for the invitation buttons. The registrant ID is
// appended, e.g. "rsvp_yes_42".
const (
	callbackAcceptPrefix  = "rsvp_yes_"
	callbackDeclinePrefix = "rsvp_no_"
)

// Notifier delivers registrant lifecycle events as Telegram messages,
// implementing notify.Dispatcher. The identity reference doubles as the
// direct chat ID.
type Notifier struct {
	sender Sender
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) Dispatch(_ context.Context, ev notify.Event) error {
	reg, cycle := ev.Registrant, ev.Cycle
	switch ev.Kind {
	case notify.KindInvited:
		text := fmt.Sprintf(
			"You're in! A spot opened up for %s on %s (%s).\nPlease confirm by %s — after that the spot moves on to the next person in line.",
			cycle.Venue.Name,
			cycle.EventAt.In(cycle.Location()).Format("Mon, 02 Jan 15:04"),
			cycle.Venue.Address,
			reg.ResponseDeadline.Time.In(cycle.Location()).Format("Mon, 02 Jan 15:04"),
		)
		markup := &telebot.ReplyMarkup{}
		btnYes := markup.Data("Accept", fmt.Sprintf("%s%d", callbackAcceptPrefix, reg.ID))
		btnNo := markup.Data("Decline", fmt.Sprintf("%s%d", callbackDeclinePrefix, reg.ID))
		markup.Inline(markup.Row(btnYes, btnNo))
		return n.sender.SendMessage(reg.ChatID, text, &telebot.SendOptions{ReplyMarkup: markup})

	case notify.KindConfirmed:
		text := fmt.Sprintf("Your spot for %s on %s is confirmed. See you there!",
			cycle.Venue.Name, cycle.EventAt.In(cycle.Location()).Format("Mon, 02 Jan 15:04"))
		return n.sender.SendMessage(reg.ChatID, text, nil)

	case notify.KindDeclined:
		return n.sender.SendMessage(reg.ChatID, "Got it, your spot was released. Thanks for letting us know!", nil)

	case notify.KindExpired:
		return n.sender.SendMessage(reg.ChatID,
			"Your invitation expired because we didn't hear back in time. The spot went to the next person in line.", nil)
	}
	return fmt.Errorf("unknown notification kind: %s", ev.Kind)
}

var _ notify.Dispatcher = (*Notifier)(nil)
