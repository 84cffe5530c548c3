package odata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"odatamcp/internal/api"
	pkgstrings "odatamcp/pkg/strings"
)

// maxErrorMessage bounds the backend message carried in errors, in runes.
const maxErrorMessage = 512

// envelope covers the OData v2 and v4 error bodies and the nested
// rootCause.response wrapper some SAP gateways and proxies produce.
type envelope struct {
	Error     *odataError `json:"error"`
	RootCause *struct {
		Response *struct {
			Status int `json:"status"`
			Data   *struct {
				Error *odataError `json:"error"`
			} `json:"data"`
		} `json:"response"`
	} `json:"rootCause"`
}

type odataError struct {
	Code    string          `json:"code"`
	Message json.RawMessage `json:"message"`
}

// text returns the message of a v4 error ("message": "...") or a v2 error
// ("message": {"lang": "en", "value": "..."}).
func (e *odataError) text() string {
	if e == nil || len(e.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return s
	}
	var v2 struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(e.Message, &v2); err == nil {
		return v2.Value
	}
	return ""
}

// backendError turns a non-2xx backend response into *api.BackendError with
// a single readable message.
func backendError(status int, body []byte) error {
	message := ""
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if rc := env.RootCause; rc != nil && rc.Response != nil {
			if rc.Response.Status >= 400 {
				status = rc.Response.Status
			}
			if rc.Response.Data != nil {
				message = rc.Response.Data.Error.text()
			}
		}
		if message == "" {
			message = env.Error.text()
		}
		if message != "" && env.Error != nil && env.Error.Code != "" {
			message = fmt.Sprintf("%s (%s)", message, env.Error.Code)
		}
	}

	if message == "" {
		message = plainText(body)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	message = pkgstrings.TruncateLine(message, maxErrorMessage)

	return &api.BackendError{Status: status, Message: message}
}

// plainText returns the first line of a short text body, e.g. SAP's
// "CSRF token validation failed". HTML and JSON bodies yield "".
func plainText(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" || strings.HasPrefix(text, "<") || strings.HasPrefix(text, "{") {
		return ""
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return text
}
