package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumemail/plume/crypto"
)

// The pixel endpoint must answer with the image even when the id is garbage,
// so a sender cannot probe which pixel ids exist.
func TestTrackOpenAlwaysServesPixel(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest("GET", "/track/open/not-a-uuid", nil)
	req = mux.SetURLVars(req, map[string]string{"pixel": "not-a-uuid"})
	rec := httptest.NewRecorder()

	s.handleTrackOpen(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, trackingGIF, rec.Body.Bytes())
}

func TestQueryInt(t *testing.T) {
	assert.Equal(t, 1, queryInt("", 1))
	assert.Equal(t, 7, queryInt("7", 1))
	assert.Equal(t, 50, queryInt("abc", 50))
	assert.Equal(t, 50, queryInt("0", 50))
	assert.Equal(t, 50, queryInt("-3", 50))
}

func TestOriginAllowed(t *testing.T) {
	s := &Server{}
	assert.True(t, s.originAllowed("https://anything.example"))

	s.opts.AllowedOrigins = []string{"https://app.example.com"}
	assert.True(t, s.originAllowed("https://app.example.com"))
	assert.False(t, s.originAllowed("https://evil.example.com"))

	s.opts.AllowedOrigins = []string{"*"}
	assert.True(t, s.originAllowed("https://anything.example"))
}

func TestHashTokenStable(t *testing.T) {
	a := crypto.HashToken("abc")
	b := crypto.HashToken("abc")
	require.Equal(t, a, b)
	require.Len(t, a, 64)
	assert.NotEqual(t, a, crypto.HashToken("abd"))
}
