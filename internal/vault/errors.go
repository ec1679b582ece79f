package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a non-success response from Vault: the upstream HTTP status plus
// the human-readable error strings from the response body. Statuses map 1:1
// onto the outward response, which is why the raw status is kept instead of
// being collapsed into categories here.
type Error struct {
	Status   int
	Messages []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("vault returned status %d: %v", e.Status, e.Messages)
}

// Message joins the upstream error strings into a single outward-facing
// message, falling back to the standard status text when Vault sent none.
func (e *Error) Message() string {
	if len(e.Messages) == 0 {
		return http.StatusText(e.Status)
	}
	return strings.Join(e.Messages, "; ")
}

// NotFound reports whether Vault answered 404. For a secret read this means
// "no token registered yet" — though the same status would also cover a path
// typo or store misconfiguration; the two are not disambiguated.
func (e *Error) NotFound() bool { return e.Status == http.StatusNotFound }

// IsNotFound reports whether err is a Vault 404.
func IsNotFound(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.NotFound()
}

// normalizeError turns a non-2xx Vault response into *Error. The body's
// `errors` list is merged with its `warnings`; an unparseable body yields an
// empty message list rather than a decode failure, so the status always
// survives.
func normalizeError(status int, body []byte) error {
	var parsed struct {
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
	}
	_ = json.Unmarshal(body, &parsed)

	messages := parsed.Errors
	messages = append(messages, parsed.Warnings...)

	return &Error{Status: status, Messages: messages}
}
