package orders

import (
	"errors"
	"fmt"
)

// ErrBadRequest wraps errors caused by the caller asking for an
// operation the order's state does not permit. The API gateway maps it
// to a 400 response.
var ErrBadRequest = errors.New("bad request")

// ErrInsufficientInventory is returned by the contract builder when
// the requested quantity exceeds the listing's remaining stock. The
// remaining count is carried so the buyer can adjust the order.
type ErrInsufficientInventory struct {
	Remaining int
}

func (e ErrInsufficientInventory) Error() string {
	return fmt.Sprintf("insufficient inventory: %d remaining", e.Remaining)
}
