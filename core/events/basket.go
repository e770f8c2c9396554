package events

const (
	// TypeBasketStatus is emitted whenever the reference basket's
	// collateralization status changes.
	TypeBasketStatus = "basket.status"
	// TypeBasketRefreshed is emitted when a new reference basket generation
	// replaces the previous one.
	TypeBasketRefreshed = "basket.refreshed"
)

type BasketStatusChanged struct {
	Generation uint64
	Previous   string
	Current    string
}

func (BasketStatusChanged) EventType() string { return TypeBasketStatus }

func (e BasketStatusChanged) Attributes() map[string]string {
	return map[string]string{
		"generation": formatUint(e.Generation),
		"previous":   e.Previous,
		"current":    e.Current,
	}
}

type BasketRefreshed struct {
	Generation uint64
	Assets     int
}

func (BasketRefreshed) EventType() string { return TypeBasketRefreshed }

func (e BasketRefreshed) Attributes() map[string]string {
	return map[string]string{
		"generation": formatUint(e.Generation),
		"assets":     formatInt(e.Assets),
	}
}
