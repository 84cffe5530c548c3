package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactedToken_Formatting(t *testing.T) {
	token := NewRedactedToken("eyJhbGciOi.secret.sig")

	assert.Equal(t, "eyJhbGciOi.secret.sig", token.Value())
	assert.False(t, token.IsEmpty())

	for _, format := range []string{"%s", "%v", "%+v", "%#v", "%q"} {
		out := fmt.Sprintf(format, token)
		assert.NotContains(t, out, "secret", format)
		assert.Contains(t, out, "[REDACTED]", format)
	}

	data, err := json.Marshal(struct {
		Token RedactedToken `json:"token"`
	}{token})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(data))
}

func TestRedactedToken_Empty(t *testing.T) {
	token := NewRedactedToken("")
	assert.True(t, token.IsEmpty())
	assert.Equal(t, "", token.String())
}

func TestRedactedToken_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("call", "jwt", NewRedactedToken("top-secret"))

	assert.NotContains(t, buf.String(), "top-secret")
	assert.Contains(t, buf.String(), "jwt=[REDACTED]")
}
