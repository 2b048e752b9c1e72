package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/lunovey/simshop/pkg/errors"
)

// Webhook signatures follow the svix scheme the identity provider delivers:
// HMAC-SHA256 over "{msg_id}.{timestamp}.{body}" with the base64 part of a
// "whsec_"-prefixed secret, compared against the space-separated "v1,<sig>"
// entries of the signature header.

const webhookTolerance = 5 * time.Minute

type WebhookVerifier struct {
	key []byte
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimPrefix(secret, "whsec_")
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook secret: %w", err)
	}
	return &WebhookVerifier{key: key}, nil
}

func (v *WebhookVerifier) Verify(msgID, timestamp, signatureHeader string, body []byte) error {
	if msgID == "" || timestamp == "" || signatureHeader == "" {
		return fmt.Errorf("%w: missing signature headers", pkgerrors.ErrWebhookSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", pkgerrors.ErrWebhookSignature)
	}
	if d := time.Since(time.Unix(ts, 0)); d > webhookTolerance || d < -webhookTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", pkgerrors.ErrWebhookSignature)
	}

	mac := hmac.New(sha256.New, v.key)
	fmt.Fprintf(mac, "%s.%s.%s", msgID, timestamp, body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, entry := range strings.Fields(signatureHeader) {
		version, sig, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return pkgerrors.ErrWebhookSignature
}
