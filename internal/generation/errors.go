package generation

import "fmt"

// maxErrorBody caps how much of a gateway error response is carried in
// the error value.
const maxErrorBody = 512

// GatewayError is a non-success response from the image gateway. The
// status and (truncated) body are preserved verbatim so callers can see
// exactly what the seller said.
type GatewayError struct {
	Status int
	Body   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

func newGatewayError(status int, body []byte) *GatewayError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return &GatewayError{Status: status, Body: b}
}
