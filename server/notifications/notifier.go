package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/fallwatch/server/alertdb"
	"github.com/cyclopcam/fallwatch/server/geo"
	"github.com/cyclopcam/logs"
)

// Sent when geolocation fails
const NoLocationMessage = "Unable to obtain geolocation."

// Sender delivers a text message, and returns the provider's ID for the message
type Sender interface {
	Send(ctx context.Context, body string) (sid string, err error)
}

// History receives a record of every alert, whether or not it was delivered
type History interface {
	Add(rec *alertdb.Alert) error
}

// Alert describes a fired alert, before it has been turned into a message
type Alert struct {
	Time    time.Time
	Camera  string // Description of the camera
	GeoHint string // Host to geolocate, or "me"
	Label   string // Detection class that fired
}

// Notifier turns a fired alert into an SMS with the camera's approximate location.
// Delivery is attempted exactly once. Failures are logged and recorded, never retried.
type Notifier struct {
	log         logs.Log
	locator     geo.Locator
	sender      Sender
	history     History
	prefix      string
	httpTimeout time.Duration
}

// history may be nil
func NewNotifier(logger logs.Log, locator geo.Locator, sender Sender, history History, prefix string) *Notifier {
	return &Notifier{
		log:         logger,
		locator:     locator,
		sender:      sender,
		history:     history,
		prefix:      prefix,
		httpTimeout: 15 * time.Second,
	}
}

// Build the message body from a geolocation result. loc may be nil.
func Message(prefix string, loc *geo.Location) string {
	if loc == nil {
		return NoLocationMessage
	}
	return fmt.Sprintf("%v DETECTED! Location: %v, Coordinates: %v, %v", prefix, loc.City, loc.Lat, loc.Lon)
}

// Notify blocks until the message has been sent (or failed), and returns the record
// that was written to history.
func (n *Notifier) Notify(ctx context.Context, alert Alert) *alertdb.Alert {
	ctx, cancel := context.WithTimeout(ctx, n.httpTimeout)
	defer cancel()

	rec := &alertdb.Alert{
		Time:   dbh.MakeIntTime(alert.Time),
		Camera: alert.Camera,
		Label:  alert.Label,
	}

	loc, err := n.locator.Lookup(ctx, alert.GeoHint)
	if err != nil {
		n.log.Warnf("Failed to geolocate '%v': %v", alert.GeoHint, err)
		loc = nil
	} else {
		rec.Location = loc.String()
	}
	rec.Body = Message(n.prefix, loc)

	sid, err := n.sender.Send(ctx, rec.Body)
	if err != nil {
		n.log.Errorf("Failed to send alert: %v", err)
		rec.Error = err.Error()
	} else {
		n.log.Infof("Alert sent (SID %v): %v", sid, rec.Body)
		rec.SmsSID = sid
	}

	if n.history != nil {
		if err := n.history.Add(rec); err != nil {
			n.log.Errorf("Failed to record alert in history: %v", err)
		}
	}
	return rec
}
