package notify

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nkiryanov/devauth/internal/logger"
)

// Notifier delivers one-time codes to users
type Notifier interface {
	// Send registration confirmation code
	SendConfirmation(ctx context.Context, email string, code string) error

	// Send password recovery code
	SendRecovery(ctx context.Context, email string, code string) error
}

type Message struct {
	To      string
	Subject string
	HTML    string
}

// Build confirmation and recovery letters
type Letters struct {
	// Base URL of confirmation page, code is added as 'code' query param
	ConfirmURL string

	// Base URL of password recovery page, code is added as 'recoveryCode' query param
	RecoveryURL string
}

func (l Letters) Confirmation(email string, code string) Message {
	return Message{
		To:      email,
		Subject: "Registration Confirmation",
		HTML: fmt.Sprintf(
			"<h1>Thank for your registration</h1>\n"+
				"<p>To finish registration please follow the link below:\n"+
				"<a href='%s'>complete registration</a>\n</p>\n",
			withQuery(l.ConfirmURL, "code", code),
		),
	}
}

func (l Letters) Recovery(email string, code string) Message {
	return Message{
		To:      email,
		Subject: "Password Recovery",
		HTML: fmt.Sprintf(
			"<h1>Password Recovery</h1>\n"+
				"<p>To finish password recovery please follow the link below:\n"+
				"<a href='%s'>recovery password</a>\n</p>\n",
			withQuery(l.RecoveryURL, "recoveryCode", code),
		),
	}
}

func withQuery(base string, key string, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + url.Values{key: {value}}.Encode()
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// Notifier that only logs letters. Handy for development
type LogNotifier struct {
	letters Letters
	logger  logger.Logger
}

func NewLogNotifier(letters Letters, l logger.Logger) *LogNotifier {
	return &LogNotifier{letters: letters, logger: l.With("component", "notify")}
}

func (n *LogNotifier) SendConfirmation(_ context.Context, email string, code string) error {
	n.log(n.letters.Confirmation(email, code))
	return nil
}

func (n *LogNotifier) SendRecovery(_ context.Context, email string, code string) error {
	n.log(n.letters.Recovery(email, code))
	return nil
}

func (n *LogNotifier) log(m Message) {
	n.logger.Info("letter not sent, smtp is not configured", "to", m.To, "subject", m.Subject, "body", m.HTML)
}
