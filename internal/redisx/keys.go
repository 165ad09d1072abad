package redisx

import "time"

const (
	// Cached order JSON for fast reads: order:{order_id}
	KeyOrder = "order:%d"

	// Maintenance flag: presence of the key puts the API in 503 mode.
	KeyMaintenance = "storefront:maintenance"
)

var (
	TTLOrderCache = 5 * time.Minute
)
