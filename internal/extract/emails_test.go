package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><script>var x = "tracker@sentry.io";</script></head>
<body>
  <p>Reservations: Info@Hotel-Saranda.al or call us.</p>
  <a href="mailto:booking@hotel-saranda.al?subject=Room">Email us</a>
  <a href="MAILTO:info@hotel-saranda.al">Again</a>
  <img src="logo@2x.png">
  <p>hero@2x.png john@example.com</p>
</body></html>`

func TestFromHTML(t *testing.T) {
	t.Parallel()

	got, err := FromHTML(samplePage)
	require.NoError(t, err)
	require.Equal(t, []string{"info@hotel-saranda.al", "booking@hotel-saranda.al"}, got)
}

func TestFromHTMLNoBody(t *testing.T) {
	t.Parallel()

	got, err := FromHTML("")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestValid(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"info@hotel.al":           true,
		"a@b.example.com":         false,
		"x@test.com":              false,
		"abc@sentry.wixpress.com": false,
		"image@2x.webp":           false,
		"style@site.css":          false,
		"@hotel.al":               false,
		"info@":                   false,
	}
	for addr, want := range tests {
		require.Equal(t, want, Valid(addr), addr)
	}
}

func TestSetDedupesCaseInsensitively(t *testing.T) {
	t.Parallel()

	s := NewSet()
	require.True(t, s.Add("Info@Hotel.al"))
	require.False(t, s.Add("info@hotel.AL"))
	require.False(t, s.Add("logo@x.png"))
	require.Equal(t, 1, s.Len())
	require.Equal(t, []string{"info@hotel.al"}, s.List())
}

func TestFromHTMLMailtoSchemeAnyCase(t *testing.T) {
	t.Parallel()

	page := `<html><body>
  <a href="Mailto:front@hotel.al">Front desk</a>
  <a href=" mailTo:Owner@Hotel.al?subject=Hi">Owner</a>
  <a href="/mail">Not a mailto</a>
  <a href="mailto:">Empty</a>
</body></html>`
	got, err := FromHTML(page)
	require.NoError(t, err)
	require.Equal(t, []string{"front@hotel.al", "owner@hotel.al"}, got)
}
