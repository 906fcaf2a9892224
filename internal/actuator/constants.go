package actuator

import "time"

const (
	// SlotBase is the key for the first seed slot ('1').
	SlotBase Code = 0x31
	// SlotCount is the number of seed slots on the toolbar.
	SlotCount = 5
	// FocusSettle is how long Focus waits after switching windows.
	FocusSettle = 50 * time.Millisecond
)
