// Package relay abstracts the physical relay that sits on the modem's
// power line. The relay is wired normally closed: energizing it cuts
// power, releasing it restores power.
package relay

// Driver controls the modem power line. SetPower is idempotent and
// carries no acknowledgment; a returned error means the driver could
// not assert the requested state and the modem's power is indeterminate.
type Driver interface {
	// SetPower(true) restores modem power, SetPower(false) cuts it.
	SetPower(on bool) error
	Close() error
}
