package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"event_waitlist_bot/internal/app"
	"event_waitlist_bot/internal/domain/waitlist"

	"gopkg.in/telebot.v3"
)

// RegisterRegistrantHandlers wires the registrant-facing bot surface: joining
// the open cycle's queue, checking queue status and answering invitations via
// the inline Accept/Decline buttons.
func RegisterRegistrantHandlers(
	ctx context.Context,
	b *telebot.Bot,
	repo waitlist.Repository,
	regService *app.RegistrationService,
) {
	b.Handle("/start", func(c telebot.Context) error {
		return c.Send("Hi! I manage the waitlist for our weekly event. Use /join while registration is open to get in line, and /status to see where you stand.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		var help strings.Builder
		help.WriteString("Commands:\n\n")
		help.WriteString("/join - join the queue for the currently open event\n")
		help.WriteString("/status - show your place in line and invitation state\n")
		help.WriteString("/help - this message\n\n")
		help.WriteString("When a spot opens up you'll get a message with Accept/Decline buttons. Unanswered invitations expire after the deadline shown in the message.")
		return c.Send(help.String())
	})

	b.Handle("/join", func(c telebot.Context) error {
		cycle, err := openCycle(ctx, repo, time.Now())
		if err != nil {
			return c.Send("Registration isn't open right now. I'll be here when the next window opens!")
		}
		reg, err := regService.Register(ctx, cycle.ID, c.Sender().ID, waitlist.ClassNormal)
		if err != nil {
			switch {
			case errors.Is(err, waitlist.ErrDuplicateRegistration):
				return c.Send("You're already in line for this event. Use /status to check your place.")
			case errors.Is(err, waitlist.ErrRegistrationClosed):
				return c.Send("Registration for this event has closed.")
			default:
				c.Bot().OnError(fmt.Errorf("error enrolling chat %d: %w", c.Sender().ID, err), c)
				return c.Send("Something went wrong, please try again in a moment.")
			}
		}
		return c.Send(fmt.Sprintf("You're in line! Your queue position is %d for %s on %s.",
			reg.Position, cycle.Venue.Name, cycle.EventAt.In(cycle.Location()).Format("Mon, 02 Jan 15:04")))
	})

	b.Handle("/status", func(c telebot.Context) error {
		cycles, err := repo.ListActiveCycles(ctx)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("error listing cycles for /status: %w", err), c)
			return c.Send("Something went wrong, please try again in a moment.")
		}
		for _, cycle := range cycles {
			reg, err := repo.RegistrantByChat(ctx, cycle.ID, c.Sender().ID)
			if err != nil {
				continue
			}
			return c.Send(statusText(reg, cycle))
		}
		return c.Send("You're not registered for any upcoming event. Use /join while registration is open.")
	})

	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		// Telebot prefixes callback data with "\f".
		data := strings.TrimPrefix(c.Callback().Data, "\f")

		var accept bool
		var idStr string
		switch {
		case strings.HasPrefix(data, callbackAcceptPrefix):
			accept, idStr = true, strings.TrimPrefix(data, callbackAcceptPrefix)
		case strings.HasPrefix(data, callbackDeclinePrefix):
			accept, idStr = false, strings.TrimPrefix(data, callbackDeclinePrefix)
		default:
			return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
		}

		registrantID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("invalid registrant ID in callback data %q: %w", data, err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Couldn't process that response."})
		}

		reg, err := repo.RegistrantByID(ctx, registrantID)
		if err != nil {
			// Stale callback for a purged registrant; just acknowledge it.
			return c.Respond(&telebot.CallbackResponse{Text: "This invitation is no longer active."})
		}
		if reg.ChatID != c.Sender().ID {
			return c.Respond(&telebot.CallbackResponse{Text: "This invitation belongs to someone else."})
		}

		if _, err := regService.Respond(ctx, registrantID, accept); err != nil {
			switch {
			case errors.Is(err, waitlist.ErrInvalidTransition):
				return c.Respond(&telebot.CallbackResponse{Text: "This invitation already expired or was decided."})
			case errors.Is(err, waitlist.ErrPastCutoff):
				return c.Respond(&telebot.CallbackResponse{Text: "Too late to release the spot, the event is locked in."})
			default:
				c.Bot().OnError(fmt.Errorf("error processing response for registrant %d: %w", registrantID, err), c)
				return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong, please try again."})
			}
		}
		if accept {
			return c.Respond(&telebot.CallbackResponse{Text: "Confirmed, see you there!"})
		}
		return c.Respond(&telebot.CallbackResponse{Text: "Spot released, thanks for letting us know."})
	})
}

// openCycle returns the cycle currently accepting registrations.
func openCycle(ctx context.Context, repo waitlist.Repository, now time.Time) (*waitlist.Cycle, error) {
	cycles, err := repo.ListCyclesByStatus(ctx, waitlist.CycleOpen)
	if err != nil {
		return nil, err
	}
	for _, cycle := range cycles {
		if waitlist.RegistrationOpen(now, cycle) {
			return cycle, nil
		}
	}
	return nil, waitlist.ErrRegistrationClosed
}

func statusText(reg *waitlist.Registrant, cycle *waitlist.Cycle) string {
	when := cycle.EventAt.In(cycle.Location()).Format("Mon, 02 Jan 15:04")
	switch reg.Status {
	case waitlist.StatusWaiting:
		return fmt.Sprintf("You're at position %d in line for %s on %s. Hang tight!", reg.Position, cycle.Venue.Name, when)
	case waitlist.StatusInvited:
		return fmt.Sprintf("You have an open invitation for %s on %s! Respond before %s or the spot moves on.",
			cycle.Venue.Name, when, reg.ResponseDeadline.Time.In(cycle.Location()).Format("Mon, 02 Jan 15:04"))
	case waitlist.StatusConfirmed:
		return fmt.Sprintf("You're confirmed for %s on %s. See you there!", cycle.Venue.Name, when)
	case waitlist.StatusAttended:
		return "You're checked in. Enjoy!"
	case waitlist.StatusDeclined:
		return "You released your spot for this event."
	case waitlist.StatusExpired:
		return "Your invitation expired, the spot went to the next person in line."
	}
	return "Unknown status."
}
