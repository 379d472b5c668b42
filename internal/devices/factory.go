package devices

import (
	"fmt"

	"github.com/shieldgrid/gridctl/internal/bus"
	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/statuslog"
)

// Build assembles a Bot for a configured device: translator, serial
// driver and status log. opener may be nil to use the configured serial
// port.
func Build(dc config.DeviceConfig, opener driver.Opener, pub bus.Publisher) (*Bot, *driver.Driver, error) {
	tr, err := NewTranslator(dc.Kind, dc.Name)
	if err != nil {
		return nil, nil, err
	}

	onConnect := make([]driver.Command, 0, len(dc.OnConnect))
	for _, line := range dc.OnConnect {
		c, err := tr.Raw(line)
		if err != nil {
			return nil, nil, fmt.Errorf("device %s: on_connect %q: %w", dc.Name, line, err)
		}
		onConnect = append(onConnect, c)
	}

	if opener == nil {
		opener = driver.SerialOpener{Path: dc.Port, Baud: dc.Baud, ReadTimeout: dc.ReadTimeout}
	}
	drv := driver.New(driver.Config{
		Name:              dc.Name,
		Gate:              tr.Gate(),
		QueueCapacity:     dc.QueueCapacity,
		ReconnectInterval: dc.ReconnectInterval,
		ResponseTimeout:   dc.ResponseTimeout,
		OnConnect:         onConnect,
	}, opener, tr.NewDecoder())

	bot := NewBot(BotConfig{
		Name:            dc.Name,
		EnqueueTimeout:  dc.EnqueueTimeout,
		ResponseTimeout: dc.ResponseTimeout,
	}, tr, drv, statuslog.New(dc.HistoryDepth), pub)
	return bot, drv, nil
}
