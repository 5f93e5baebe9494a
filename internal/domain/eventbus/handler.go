package eventbus

import (
	"github.com/bytedance/sonic"

	"propmock/internal/platform/logging"
)

// LogEvents writes every event to logger at debug level.
func LogEvents(bus *Bus, logger logging.Interface) error {
	return bus.SubscribeAll(func(evt Event) {
		data, err := sonic.MarshalString(evt.Data)
		if err != nil {
			data = "?"
		}
		logger.Debug("%s %s", evt.Topic, data)
	})
}
