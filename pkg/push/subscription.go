// Package push implements the peripheral push hooks: subscriptions
// registered by browsers, push payloads turned into notifications, and
// delivery of those notifications to connected listeners.
package push

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Subscription holds the useful values from a PushSubscription object
// acquired from the browser.
//
// https://w3c.github.io/push-api/
type Subscription struct {
	// Endpoint is the URL the push service exposes for this client. It
	// also serves as the subscription's identity.
	Endpoint string

	// Key is the client's public key, from the keys.p256dh field.
	Key []byte

	// Auth is the pre-shared authentication secret, from the keys.auth
	// field.
	Auth []byte
}

// SubscriptionFromJSON parses a JSON encoded PushSubscription object
// acquired from the browser.
func SubscriptionFromJSON(b []byte) (*Subscription, error) {
	var sub struct {
		Endpoint string
		Keys     struct {
			P256dh string
			Auth   string
		}
	}
	if err := json.Unmarshal(b, &sub); err != nil {
		return nil, err
	}
	if sub.Endpoint == "" {
		return nil, errors.New("subscription has no endpoint")
	}

	b64 := base64.URLEncoding.WithPadding(base64.NoPadding)

	// Some older browsers incorrectly pad the Base64 values, so the
	// padding is stripped before decoding.
	key, err := b64.DecodeString(strings.TrimRight(sub.Keys.P256dh, "="))
	if err != nil {
		return nil, err
	}

	auth, err := b64.DecodeString(strings.TrimRight(sub.Keys.Auth, "="))
	if err != nil {
		return nil, err
	}

	return &Subscription{Endpoint: sub.Endpoint, Key: key, Auth: auth}, nil
}
