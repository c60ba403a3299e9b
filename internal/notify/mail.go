package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"sync"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type Message struct {
	To      mail.Address
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendgridMailer delivers through the SendGrid v3 API.
type SendgridMailer struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

func NewSendgridMailer(key, appName, fromEmail string) *SendgridMailer {
	return &SendgridMailer{
		key:        key,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}
}

func (m *SendgridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		v3.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return v3
}

func (m *SendgridMailer) Send(_ context.Context, msg Message) error {
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return errors.Wrap(err, "sendgrid: send")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: send: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// ConsoleMailer logs messages instead of sending them. Sent keeps a copy of every message.
type ConsoleMailer struct {
	log  *zap.Logger
	mu   sync.Mutex
	sent []Message
}

func NewConsoleMailer(log *zap.Logger) *ConsoleMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleMailer{log: log}
}

func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("mail",
		zap.String("to", msg.To.String()),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *ConsoleMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
