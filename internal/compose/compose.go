// Package compose builds outreach messages from the configured template
// pools.
package compose

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"text/template"

	"github.com/nhle/outreach/internal/model"
)

// Picker chooses an index in [0, n).
type Picker interface {
	Pick(n int) int
}

// RandomPicker picks uniformly at random.
type RandomPicker struct{}

func (RandomPicker) Pick(n int) int {
	return rand.IntN(n)
}

// Content is the subject and body of one message.
type Content struct {
	Subject string
	Body    string
}

// bodyData is what pool fragments and layouts are rendered with.
type bodyData struct {
	FirstName string
	Email     string
	Opening   string
	Body      string
	Signature string
	Links     string
}

const initialLayout = `Hi {{.FirstName}},

{{.Opening}}

{{.Body}}

{{.Signature}}
{{- if .Links}}
{{.Links}}{{end}}
`

const followupLayout = `Hi {{.FirstName}},

{{.Opening}}
{{.Body}}

{{.Signature}}
{{- if .Links}}
{{.Links}}{{end}}
`

// Composer renders one stage's messages.
type Composer struct {
	pool   model.TemplatePool
	layout *template.Template
	picker Picker
}

// NewInitial returns a composer for first-contact messages.
func NewInitial(pool model.TemplatePool, picker Picker) (*Composer, error) {
	return newComposer("initial", initialLayout, pool, picker)
}

// NewFollowup returns a composer for follow-up messages.
func NewFollowup(pool model.TemplatePool, picker Picker) (*Composer, error) {
	return newComposer("followup", followupLayout, pool, picker)
}

func newComposer(name, layout string, pool model.TemplatePool, picker Picker) (*Composer, error) {
	if len(pool.Subjects) == 0 {
		return nil, &model.ConfigError{Field: "templates." + name + ".subjects", Message: "at least one subject is required"}
	}
	if len(pool.Bodies) == 0 {
		return nil, &model.ConfigError{Field: "templates." + name + ".bodies", Message: "at least one body is required"}
	}
	if picker == nil {
		picker = RandomPicker{}
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("parsing %s layout: %w", name, err)
	}

	// Fail at startup rather than mid-campaign on a broken fragment.
	for _, group := range [][]string{pool.Subjects, pool.Openings, pool.Bodies, pool.Signatures} {
		for _, frag := range group {
			if _, err := render(frag, bodyData{}); err != nil {
				return nil, &model.ConfigError{Field: "templates." + name, Message: err.Error()}
			}
		}
	}

	return &Composer{pool: pool, layout: tmpl, picker: picker}, nil
}

// Compose renders a message for r.
func (c *Composer) Compose(r model.Recipient) (Content, error) {
	data := bodyData{
		FirstName: r.Greeting(),
		Email:     r.Email,
		Links:     strings.TrimSpace(c.pool.Links),
	}

	var err error
	if data.Opening, err = c.pick(c.pool.Openings, data); err != nil {
		return Content{}, err
	}
	if data.Body, err = c.pick(c.pool.Bodies, data); err != nil {
		return Content{}, err
	}
	if data.Signature, err = c.pick(c.pool.Signatures, data); err != nil {
		return Content{}, err
	}
	subject, err := c.pick(c.pool.Subjects, data)
	if err != nil {
		return Content{}, err
	}

	var buf bytes.Buffer
	if err := c.layout.Execute(&buf, data); err != nil {
		return Content{}, fmt.Errorf("rendering message for %s: %w", r.Email, err)
	}

	return Content{Subject: subject, Body: buf.String()}, nil
}

// pick chooses one fragment and renders it; fragments may reference
// {{.FirstName}} and {{.Email}}.
func (c *Composer) pick(options []string, data bodyData) (string, error) {
	if len(options) == 0 {
		return "", nil
	}
	frag := options[c.picker.Pick(len(options))]
	out, err := render(frag, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func render(frag string, data bodyData) (string, error) {
	if !strings.Contains(frag, "{{") {
		return frag, nil
	}
	t, err := template.New("fragment").Parse(frag)
	if err != nil {
		return "", fmt.Errorf("parsing fragment %q: %w", frag, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering fragment %q: %w", frag, err)
	}
	return buf.String(), nil
}
