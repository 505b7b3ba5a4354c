package creds

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieHeaderPrefersRawCapture(t *testing.T) {
	b := &Bundle{
		Cookies:   map[string]string{"sid": "abc", "jwt": "def"},
		RawCookie: "sid=abc; jwt=def; marketing=1",
	}
	assert.Equal(t, "sid=abc; jwt=def; marketing=1", b.CookieHeader())
}

func TestCookieHeaderRendersFromMap(t *testing.T) {
	b := &Bundle{Cookies: map[string]string{"sid": "abc", "jwt": "def"}}
	header := b.CookieHeader()
	assert.Contains(t, header, "sid=abc")
	assert.Contains(t, header, "jwt=def")
	assert.Len(t, strings.Split(header, "; "), 2)
}

func TestValidateUberEats(t *testing.T) {
	b := &Bundle{Platform: PlatformUberEats, Cookies: map[string]string{"sid": "abc"}}
	require.NoError(t, b.Validate())

	b = &Bundle{Platform: PlatformUberEats, Cookies: map[string]string{"other": "x"}}
	require.Error(t, b.Validate())

	// A raw cookie capture passes even when the parsed map is incomplete.
	b = &Bundle{Platform: PlatformUberEats, RawCookie: "sid=abc"}
	require.NoError(t, b.Validate())

	b = &Bundle{Platform: PlatformUberEats}
	require.Error(t, b.Validate())
}

func TestValidateDoorDash(t *testing.T) {
	b := &Bundle{
		Platform: PlatformDoorDash,
		Tokens:   map[string]string{TokenStore: "42"},
		Cookies:  map[string]string{"dd_session": "x"},
	}
	require.NoError(t, b.Validate())

	b = &Bundle{Platform: PlatformDoorDash, Cookies: map[string]string{"dd_session": "x"}}
	require.Error(t, b.Validate(), "missing store id must fail")

	b = &Bundle{Platform: PlatformDoorDash, Tokens: map[string]string{TokenStore: "42"}}
	require.Error(t, b.Validate(), "missing cookies must fail")
}

func TestValidateUnknownPlatform(t *testing.T) {
	b := &Bundle{Platform: Platform("grubhub"), Cookies: map[string]string{"sid": "x"}}
	require.Error(t, b.Validate())
}

func TestTokenOnNilBundle(t *testing.T) {
	var b *Bundle
	assert.Equal(t, "", b.Token(TokenCSRF))
}
