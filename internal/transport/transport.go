// Package transport defines the boundary to the wireless transport. The
// session owns the lifecycle decisions; everything below the attribute level
// (scanning, pairing, GATT plumbing) lives behind these interfaces.
package transport

import (
	"context"
	"time"
)

// Peripheral identifies a discovered device. It is set once from the
// scanner's device record and never mutated.
type Peripheral struct {
	// Address is the transport (MAC) address of the device.
	Address string
	// Name is the advertised name. May be empty when the advertisement
	// carried none.
	Name string
}

// NotificationHandler receives one raw notification payload from a
// subscribed attribute.
type NotificationHandler func(data []byte)

// DisconnectHandler is invoked when a link drops, expectedly or not. The
// link argument identifies which link instance the signal originated from,
// so a late signal from an already-replaced link can be recognized as stale
// and dropped.
type DisconnectHandler func(link Link)

// Scanner discovers peripherals advertising a given service UUID.
type Scanner interface {
	// Scan collects peripherals seen within timeout whose advertisement
	// carries serviceUUID.
	Scan(ctx context.Context, serviceUUID string, timeout time.Duration) ([]Peripheral, error)
}

// Connector establishes links to peripherals.
type Connector interface {
	// Connect establishes a link to p, retrying the low-level attempt up
	// to maxAttempts times. onDisconnect fires for any later drop of the
	// returned link, including one caused by Close.
	Connect(ctx context.Context, p Peripheral, maxAttempts int, onDisconnect DisconnectHandler) (Link, error)
}

// Link is an established transport-level connection to the device. Exactly
// one link is open at a time; the session owns it exclusively.
type Link interface {
	// Connected reports whether the underlying link is still live.
	Connected() bool

	// HasAttribute reports whether the device exposes the given
	// characteristic UUID.
	HasAttribute(uuid string) (bool, error)

	// Subscribe registers a handler for notifications on the given
	// characteristic.
	Subscribe(uuid string, h NotificationHandler) error

	// Close severs the link.
	Close() error
}
