package moodle

import "fmt"

// CodeInvalidToken is the Moodle error code for a token the LMS no longer
// accepts (revoked, expired, or never issued).
const CodeInvalidToken = "invalidtoken"

// APIError is a business error reported by Moodle inside an HTTP 200 body as
// an `{errorcode, message}` envelope. It is distinct from transport-level
// failures, which surface as plain wrapped errors.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("moodle api error %s: %s", e.Code, e.Message)
}

// InvalidToken reports whether Moodle rejected the access token itself, as
// opposed to some other web-service failure.
func (e *APIError) InvalidToken() bool { return e.Code == CodeInvalidToken }
