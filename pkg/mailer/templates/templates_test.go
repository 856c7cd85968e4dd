package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderWelcome(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	data := NewWelcomeData(Brand{AppName: "Directory", CompanyName: "Acme"}, "ann@x.com", WithTime(at))

	mail, err := Render(Welcome, data)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Directory", mail.Subject)
	assert.Contains(t, mail.Text, "ann@x.com was added to Directory on 01 March 2026, 05:00 UTC")
	assert.Contains(t, mail.HTML, "<strong>ann@x.com</strong>")
}

func TestRenderFarewellDefaults(t *testing.T) {
	mail, err := Render(Farewell, NewFarewellData(Brand{}, "ann@x.com"))
	require.NoError(t, err)
	assert.Equal(t, "Your directory entry was removed", mail.Subject)
	assert.Contains(t, mail.Text, "removed from the directory.")
}

func TestRenderHTMLEscapes(t *testing.T) {
	mail, err := Render(Welcome, NewWelcomeData(Brand{}, "<b>@x.com"))
	require.NoError(t, err)
	assert.NotContains(t, mail.HTML, "<b>@x.com")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := Render("missing", EmailData{})
	assert.Error(t, err)
}
