// Package templates loads the outreach message catalog and renders messages
// for a recipient.
package templates

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"os"
	"strings"
	texttemplate "text/template"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

// DefaultID is the template used when none is requested.
const DefaultID = "default"

//go:embed default.yaml
var defaultCatalog []byte

// ErrUnknownTemplate is returned by Render for an id not in the catalog.
var ErrUnknownTemplate = errors.New("unknown template")

// Template is one catalog entry as written in YAML.
type Template struct {
	ID      string `yaml:"id"`
	Subject string `yaml:"subject"`
	Text    string `yaml:"text"`
	HTML    string `yaml:"html"`
}

type file struct {
	Templates []Template `yaml:"templates"`
}

type compiled struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Catalog holds parsed templates by id.
type Catalog struct {
	entries map[string]compiled
}

// Data is what a template can reference.
type Data struct {
	BusinessName string
	Address      string
	City         string
	Phone        string
	Website      string
	Category     string
	Email        string
	Link         string
	SenderName   string
}

// Message is a rendered email.
type Message struct {
	TemplateID string
	Subject    string
	Text       string
	HTML       string
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog, nil)
}

// LoadFile reads a YAML catalog. Its entries are layered over the built-in
// ones, so a file may override "default" or only add new ids. An empty path
// returns the built-in catalog.
func LoadFile(path string) (*Catalog, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return Parse(raw, base)
}

// Parse decodes a YAML catalog on top of base (which may be nil).
func Parse(raw []byte, base *Catalog) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode template catalog: %w", err)
	}
	cat := &Catalog{entries: make(map[string]compiled)}
	if base != nil {
		for id, c := range base.entries {
			cat.entries[id] = c
		}
	}
	for _, t := range f.Templates {
		c, err := compile(t)
		if err != nil {
			return nil, err
		}
		cat.entries[t.ID] = c
	}
	return cat, nil
}

func compile(t Template) (compiled, error) {
	if strings.TrimSpace(t.ID) == "" {
		return compiled{}, fmt.Errorf("template without id")
	}
	if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Text) == "" {
		return compiled{}, fmt.Errorf("template %q: subject and text are required", t.ID)
	}
	var (
		c   compiled
		err error
	)
	if c.subject, err = texttemplate.New(t.ID + ".subject").Option("missingkey=error").Parse(t.Subject); err != nil {
		return compiled{}, fmt.Errorf("template %q subject: %w", t.ID, err)
	}
	if c.text, err = texttemplate.New(t.ID + ".text").Option("missingkey=error").Parse(t.Text); err != nil {
		return compiled{}, fmt.Errorf("template %q text: %w", t.ID, err)
	}
	if t.HTML != "" {
		if c.html, err = htmltemplate.New(t.ID + ".html").Parse(t.HTML); err != nil {
			return compiled{}, fmt.Errorf("template %q html: %w", t.ID, err)
		}
	}
	return c, nil
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.entries[id]
	return ok
}

// Render fills template id with data. An empty id selects DefaultID.
func (c *Catalog) Render(id string, data Data) (Message, error) {
	if id == "" {
		id = DefaultID
	}
	t, ok := c.entries[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	msg := Message{TemplateID: id}
	var buf bytes.Buffer
	if err := t.subject.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", id, err)
	}
	msg.Subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := t.text.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", id, err)
	}
	msg.Text = buf.String()

	if t.html != nil {
		buf.Reset()
		if err := t.html.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("render %s html: %w", id, err)
		}
		msg.HTML = buf.String()
	}
	return msg, nil
}

// DataFor builds template data for a recipient.
func DataFor(r store.Recipient, link, sender string) Data {
	name := r.Business.Name
	if name == "" {
		name = "there"
	}
	return Data{
		BusinessName: name,
		Address:      r.Business.Address,
		City:         cityFromAddress(r.Business.Address),
		Phone:        r.Business.Phone,
		Website:      r.Business.Website,
		Category:     r.Business.Category,
		Email:        r.Contact.Email,
		Link:         link,
		SenderName:   sender,
	}
}

// cityFromAddress picks the city out of "street, city, state zip, country".
func cityFromAddress(addr string) string {
	parts := strings.Split(addr, ",")
	if len(parts) < 3 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-3])
}
