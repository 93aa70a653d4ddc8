package inventory

import "errors"

var (
	// ErrInvalidArgument is returned for malformed requests such as a zero
	// move quantity or a partial move onto a different resource type.
	ErrInvalidArgument = errors.New("inventory: invalid argument")
	// ErrUnresolvableLocation is returned when a SlotLocation names a bag the
	// inventory does not own or a slot index outside the bag.
	ErrUnresolvableLocation = errors.New("inventory: unresolvable slot location")
	// ErrUnknownResource is returned when the resource catalog has no entry.
	ErrUnknownResource = errors.New("inventory: unknown resource")
	// ErrUnknownBagTemplate is returned when the bag catalog has no entry.
	ErrUnknownBagTemplate = errors.New("inventory: unknown bag template")
	// ErrDuplicateBag is returned when a bag instance id is already owned.
	ErrDuplicateBag = errors.New("inventory: duplicate bag instance")
	// ErrAlreadyLoaded is returned when Reconcile runs on a non-empty inventory.
	ErrAlreadyLoaded = errors.New("inventory: already loaded")
)
