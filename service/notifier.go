package service

import (
	"context"
	"fmt"
	"time"

	mail "github.com/go-mail/mail/v2"
	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Mailer delivers a plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	d := mail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	return d.DialAndSend(msg)
}

// LogMailer is used when SMTP is not configured.
type LogMailer struct {
	Log *utils.Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, _ string) error {
	m.Log.Info("mail (not sent, smtp disabled) to=%s subject=%q", to, subject)
	return nil
}

type SwapEvent string

const (
	EventSwapRequested SwapEvent = "swap_requested"
	EventSwapAccepted  SwapEvent = "swap_accepted"
	EventSwapDeclined  SwapEvent = "swap_declined"
	EventSwapCompleted SwapEvent = "swap_completed"
	EventSwapCancelled SwapEvent = "swap_cancelled"
)

var eventSubjects = map[SwapEvent]string{
	EventSwapRequested: "New swap request",
	EventSwapAccepted:  "Your swap request was accepted",
	EventSwapDeclined:  "Your swap request was declined",
	EventSwapCompleted: "Swap completed",
	EventSwapCancelled: "Swap cancelled",
}

type notifyStore interface {
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	InsertEmailLog(ctx context.Context, log *models.EmailLog) error
}

// Notifier sends best-effort swap emails. Failures are logged and recorded, never returned.
type Notifier struct {
	mailer Mailer
	store  notifyStore
	log    *utils.Logger
}

func NewNotifier(mailer Mailer, st notifyStore, logger *utils.Logger) *Notifier {
	return &Notifier{mailer: mailer, store: st, log: logger}
}

func (n *Notifier) SwapEvent(ctx context.Context, swap *models.Swap, event SwapEvent, recipient primitive.ObjectID) {
	if n == nil {
		return
	}
	user, err := n.store.UserByID(ctx, recipient)
	if err != nil {
		n.log.Error("notify %s swap=%s: load recipient %s: %v", event, swap.ID.Hex(), recipient.Hex(), err)
		return
	}
	body := fmt.Sprintf("Hi %s,\n\nSwap %s is now %s.\n", user.Name, swap.ID.Hex(), swap.Status)
	if swap.Message != "" && event == EventSwapRequested {
		body += "\nMessage: " + swap.Message + "\n"
	}
	if swap.ResponseMessage != "" && event != EventSwapRequested {
		body += "\nResponse: " + swap.ResponseMessage + "\n"
	}
	entry := &models.EmailLog{
		SwapID:  swap.ID,
		Event:   string(event),
		UserID:  user.ID,
		ToEmail: user.Email,
		SentAt:  time.Now(),
	}
	if err := n.mailer.Send(ctx, user.Email, eventSubjects[event], body); err != nil {
		n.log.Error("notify %s swap=%s: %v", event, swap.ID.Hex(), err)
		entry.Error = err.Error()
	}
	if err := n.store.InsertEmailLog(ctx, entry); err != nil {
		n.log.Error("notify %s swap=%s: failed to insert email log: %v", event, swap.ID.Hex(), err)
	}
}
