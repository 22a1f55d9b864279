// Package notify implements the NotificationDelivery collaborator with
// native OS toast notifications, the same library the reference desktop
// app uses for its clipboard-detected-link toasts.
package notify

import (
	"github.com/rs/zerolog"

	toast "git.sr.ht/~jackmordaunt/go-toast/v2"
)

// Delivery is the NotificationDelivery capability: best-effort, never
// blocking, never surfaced as a core failure.
type Delivery interface {
	Notify(summary, body string)
}

// ToastDelivery pushes native OS toast notifications under a fixed app
// identity.
type ToastDelivery struct {
	appID    string
	iconPath string
	log      *zerolog.Logger
}

// NewToastDelivery constructs a Delivery that renders toasts under appID,
// optionally decorated with iconPath.
func NewToastDelivery(appID, iconPath string, log *zerolog.Logger) *ToastDelivery {
	return &ToastDelivery{appID: appID, iconPath: iconPath, log: log}
}

// Notify renders a toast. Failures are logged at debug and otherwise
// swallowed: a missing OS notification service is never a core failure.
func (d *ToastDelivery) Notify(summary, body string) {
	n := toast.Notification{
		AppID: d.appID,
		Title: summary,
		Body:  body,
		Icon:  d.iconPath,
	}
	if err := n.Push(); err != nil && d.log != nil {
		d.log.Debug().Err(err).Str("summary", summary).Msg("toast notification delivery failed")
	}
}
