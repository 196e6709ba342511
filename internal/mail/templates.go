package mail

import (
	"errors"
	"strings"
	"text/template"

	"github.com/accountd/apiserver/types"
)

// ErrUnknownKind is returned by Render for notification kinds without a template.
var ErrUnknownKind = errors.New("no template for notification kind")

type mailTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[types.NotificationKind]mailTemplate{
	types.NotificationUserCreated: {
		subject: "Welcome aboard",
		body: parse("user.created",
			`Hello {{ greeting . }},

Your account has been created with the address {{ .Email }}.

If you did not sign up, please contact support.
`),
	},
	types.NotificationPasswordChanged: {
		subject: "Your password was changed",
		body: parse("user.password_changed",
			`Hello {{ greeting . }},

The password of your account was changed on {{ .OccurredAt.Format "2006-01-02 15:04 MST" }}.

If this was not you, reset your password immediately.
`),
	},
}

func parse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(template.FuncMap{"greeting": greeting}).Parse(text))
}

func greeting(n types.Notification) string {
	if name := strings.TrimSpace(n.Name); name != "" {
		return name
	}
	return n.Email
}

// Render builds the mail for n, addressed to the account's email.
func Render(n types.Notification) (Message, error) {
	tpl, ok := templates[n.Kind]
	if !ok {
		return Message{}, ErrUnknownKind
	}
	var body strings.Builder
	if err := tpl.body.Execute(&body, n); err != nil {
		return Message{}, err
	}
	return Message{To: n.Email, Subject: tpl.subject, Body: body.String()}, nil
}
