package iothub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// SASToken builds a shared access signature for resourceURI signed with the
// base64 encoded key and valid until expiry.
func SASToken(resourceURI, key string, expiry time.Time) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	sr := url.QueryEscape(resourceURI)
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, decoded)
	mac.Write([]byte(sr + "\n" + se))
	sig := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s", sr, sig, se), nil
}

// credentials returns a provider that mints a fresh token on every call.
// A key that fails to decode yields an empty password and the hub rejects
// the connection; New validates the key up front so this is not expected.
func (c *Client) credentials() func() (string, string) {
	username := c.cs.Username(c.cfg.APIVersion)
	return func() (string, string) {
		token, err := SASToken(c.cs.ResourceURI(), c.cs.SharedAccessKey, c.now().Add(c.cfg.TokenTTL))
		if err != nil {
			c.logError("SAS token generation failed", "error", err)
			return username, ""
		}
		return username, token
	}
}
