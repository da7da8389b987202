package endpoint

import "errors"

var (
	// ErrUnknownPeer reports a send or disconnect for an address with no
	// established connection.
	ErrUnknownPeer = errors.New("endpoint: unknown peer")
	// ErrMappingExpired reports a send whose encryption mapping idled out.
	ErrMappingExpired = errors.New("endpoint: encryption mapping expired")
)
