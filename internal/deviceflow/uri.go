// Package deviceflow implements verification URI handling
package deviceflow

import (
	"net/url"
	"path"

	"github.com/wrale/oauth2-device-server/internal/validation"
)

// buildVerificationURIs creates the verification URIs per RFC 8628
// sections 3.2 and 3.3.1:
// - verification_uri: the page where users type their code
// - verification_uri_complete: the same page with the code prefilled,
//   for QR codes and one-tap flows
func (f *Flow) buildVerificationURIs(userCode string) (string, string) {
	baseURL, err := url.Parse(f.baseURL)
	if err != nil {
		return "", "" // Invalid base URL
	}

	// Combine any existing path with the device verification endpoint
	baseURL.Path = path.Join(baseURL.Path, "device")
	verificationURI := baseURL.String()

	if err := validation.ValidateUserCode(userCode); err != nil {
		return verificationURI, "" // Base URI only if code invalid
	}

	completeURL := *baseURL
	q := completeURL.Query()
	q.Set("user_code", validation.FormatCode(validation.NormalizeCode(userCode)))
	completeURL.RawQuery = q.Encode()

	return verificationURI, completeURL.String()
}
