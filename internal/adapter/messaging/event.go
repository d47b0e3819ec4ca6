package messaging

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/rl1809/stock-reservation/internal/port"
)

// eventType names an event on the wire, e.g. "order.committed".
func eventType(event port.OrderEvent) string {
	return "order." + string(event.Status)
}

func encode(event port.OrderEvent) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s event", eventType(event))
	}
	return body, nil
}
