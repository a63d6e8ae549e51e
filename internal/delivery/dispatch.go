package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/events"
)

// Dispatcher creates the courier delivery after payment settles. A failure
// here is operational, not financial: the order stays paid and valid, and an
// alert goes out so someone can dispatch manually.
type Dispatcher struct {
	Carrier Carrier
	Pickup  Coord
	Bus     *events.Bus
	Logger  zerolog.Logger
}

// Dispatch asks the carrier to send a courier for the order. On failure it
// emits a dispatch-failed event for the ops alert channel and returns the
// error for logging; callers must not fail the order on it.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID uuid.UUID, dropoff Coord, name, phone, quoteID string) (DispatchResult, error) {
	if d == nil || d.Carrier == nil {
		return DispatchResult{}, fmt.Errorf("dispatcher not configured")
	}
	res, err := d.Carrier.Dispatch(ctx, DispatchRequest{
		OrderRef:     orderID.String(),
		Pickup:       d.Pickup,
		Dropoff:      dropoff,
		DropoffName:  name,
		DropoffPhone: phone,
		QuoteID:      quoteID,
	})
	if err != nil {
		d.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("delivery_dispatch_failed")
		if d.Bus != nil {
			d.Bus.Emit(ctx, events.TopicDeliveryDispatchFailed, orderID, map[string]any{
				"orderId": orderID.String(),
				"error":   err.Error(),
			})
		}
		return DispatchResult{}, err
	}
	d.Logger.Info().Str("order_id", orderID.String()).Str("delivery_id", res.DeliveryID).Msg("delivery_dispatched")
	return res, nil
}
