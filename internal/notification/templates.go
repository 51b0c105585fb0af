package notification

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"booking_sync_backend/internal/email"
)

// Template names.
const (
	TemplateMissingHandle     = "missing-handle"
	TemplateAmbiguousIdentity = "ambiguous-identity"
	TemplateClientsMerged     = "clients-merged"
	TemplateReminder          = "reminder"
)

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("02.01.2006 15:04")
	},
	"join": strings.Join,
}

var bodies = map[string]string{
	TemplateMissingHandle: `Client {{.Name}}{{with .ExternalID}} (#{{.}}){{end}} has no Instagram handle on file.
{{- if .Explicit}} The client stated they have none.{{else}} Please ask for it.{{end}}
{{- with .Phone}}
Phone: {{.}}{{end}}`,

	TemplateAmbiguousIdentity: `Booking client {{.Name}}{{with .ExternalID}} (#{{.}}){{end}} matched several existing clients by name.
A new client {{.ClientID}} was created. Candidates: {{join .Candidates ", "}}.
Merge them by hand if they are the same person.`,

	TemplateClientsMerged: `Client {{.RemovedID}} was merged into {{.SurvivorID}} ({{.Name}}{{with .ExternalID}}, #{{.}}{{end}}).
Matched by: {{.Reason}}.`,

	TemplateReminder: `Hello{{with .Name}}, {{.}}{{end}}!
This is a reminder of your {{with .Service}}{{.}} {{end}}appointment on {{date .AppointmentAt}}.`,
}

var subjects = map[string]string{
	TemplateMissingHandle:     email.SubjectMissingHandle,
	TemplateAmbiguousIdentity: email.SubjectAmbiguousIdentity,
	TemplateClientsMerged:     email.SubjectClientsMerged,
}

type renderer struct {
	set *template.Template
}

func newRenderer() (*renderer, error) {
	set := template.New("notifications").Funcs(funcs)
	for name, body := range bodies {
		if _, err := set.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
	}
	return &renderer{set: set}, nil
}

// render executes the named template. Unknown names are an error.
func (r *renderer) render(name string, data any) (string, error) {
	tpl := r.set.Lookup(name)
	if tpl == nil {
		return "", fmt.Errorf("unknown notification template %q", name)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func subjectFor(name string) string {
	if s, ok := subjects[name]; ok {
		return s
	}
	return email.Subject(name)
}
