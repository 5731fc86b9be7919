package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

func TestDefaultRender(t *testing.T) {
	t.Parallel()

	cat, err := Default()
	require.NoError(t, err)
	require.True(t, cat.Has(DefaultID))

	r := store.Recipient{
		Contact:  store.Contact{Email: "info@acme.com"},
		Business: store.Business{Name: "Acme Heating", Category: "hvac", Address: "1 Main St, Springfield, IL 62701, USA"},
	}
	msg, err := cat.Render("", DataFor(r, "https://example.com/offer", "Sam"))
	require.NoError(t, err)
	require.Equal(t, DefaultID, msg.TemplateID)
	require.Equal(t, "A quick idea for Acme Heating", msg.Subject)
	require.Contains(t, msg.Text, "hvac business in Springfield")
	require.Contains(t, msg.Text, "https://example.com/offer")
	require.Contains(t, msg.Text, "Sam")
	require.Empty(t, msg.HTML)
}

func TestLoadFileOverlaysDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - id: spring
    subject: "Spring tune-ups, {{.BusinessName}}"
    text: "Hi {{.BusinessName}}"
    html: "<p>Hi {{.BusinessName}}</p>"
`), 0o600))

	cat, err := LoadFile(path)
	require.NoError(t, err)
	require.True(t, cat.Has(DefaultID))

	msg, err := cat.Render("spring", Data{BusinessName: "A&B Air"})
	require.NoError(t, err)
	require.Equal(t, "Hi A&B Air", msg.Text)
	require.Equal(t, "<p>Hi A&amp;B Air</p>", msg.HTML)
}

func TestRenderUnknown(t *testing.T) {
	t.Parallel()

	cat, err := Default()
	require.NoError(t, err)
	_, err = cat.Render("nope", Data{})
	require.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestParseRejectsBadEntries(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("templates:\n  - id: x\n    subject: hi\n"), nil)
	require.Error(t, err)

	_, err = Parse([]byte("templates:\n  - id: x\n    subject: \"{{.Nope\"\n    text: t\n"), nil)
	require.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
