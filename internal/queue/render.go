package queue

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Message is a rendered email ready for delivery.
type Message struct {
	To      string
	Subject string
	HTML    string
}

const brand = "LinkLink Server"

var (
	registrationTmpl = template.Must(template.New("registration").Parse(`<html>
<body>
<h2>New User Registration</h2>
<p>A new user has registered for an account:</p>
<ul>
<li><strong>Username:</strong> {{.Username}}</li>
<li><strong>Email:</strong> {{.Email}}</li>
<li><strong>Registration Date:</strong> {{.When}}</li>
</ul>
<p>Please review and approve or reject this registration through the admin interface.</p>
</body>
</html>
`))

	decisionTmpl = template.Must(template.New("decision").Parse(`<html>
<body>
<h2>Account {{.Status}}</h2>
<p>Dear {{.Username}},</p>
<p>Your account registration has been <strong>{{.Lower}}</strong>.</p>
{{if .Approved}}<p>You can now log in to your account and start using our services.</p>
<p>Thank you for choosing {{.Brand}}!</p>
{{else}}<p>Reason: {{.Reason}}</p>
<p>If you believe this was an error, please contact support.</p>
{{end}}</body>
</html>
`))
)

// Render builds the email for ev.
func Render(ev UserNotificationEvent) (*Message, error) {
	if ev.To == "" {
		return nil, fmt.Errorf("render %s: missing recipient", ev.Type)
	}
	var buf bytes.Buffer
	msg := &Message{To: ev.To}

	switch ev.Type {
	case EventRegistration:
		msg.Subject = "New User Registration - " + brand
		err := registrationTmpl.Execute(&buf, struct {
			Username, Email, When string
		}{ev.Username, ev.Email, registrationTime(ev.OccurredAt)})
		if err != nil {
			return nil, fmt.Errorf("render registration: %w", err)
		}
	case EventApproved, EventRejected:
		status := "Approved"
		if ev.Type == EventRejected {
			status = "Rejected"
		}
		reason := ev.Reason
		if reason == "" {
			reason = "No specific reason provided"
		}
		msg.Subject = fmt.Sprintf("Account %s - %s", status, brand)
		err := decisionTmpl.Execute(&buf, struct {
			Status, Lower, Username, Reason, Brand string
			Approved                               bool
		}{status, strings.ToLower(status), ev.Username, reason, brand, ev.Type == EventApproved})
		if err != nil {
			return nil, fmt.Errorf("render decision: %w", err)
		}
	default:
		return nil, fmt.Errorf("render: unknown event type %q", ev.Type)
	}

	msg.HTML = buf.String()
	return msg, nil
}

func registrationTime(occurredAt string) string {
	t, err := time.Parse(time.RFC3339, occurredAt)
	if err != nil {
		return occurredAt
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
