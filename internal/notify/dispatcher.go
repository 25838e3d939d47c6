package notify

import (
	"context"

	"github.com/jandubois/omnicube-probe/internal/logger"
	"github.com/jandubois/omnicube-probe/internal/probe"
)

// Config selects the channels and the statuses that trigger a notification.
type Config struct {
	On       []string       `mapstructure:"on"       yaml:"on"`
	Ntfy     NtfyConfig     `mapstructure:"ntfy"     yaml:"ntfy"`
	Pushover PushoverConfig `mapstructure:"pushover" yaml:"pushover"`
}

// Dispatcher sends verdicts to the configured channels.
type Dispatcher struct {
	channels []Channel
	on       map[probe.Status]bool
	log      logger.Logger
}

// NewDispatcher creates a dispatcher for every channel enabled in cfg.
func NewDispatcher(cfg Config, log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		on:  make(map[probe.Status]bool, len(cfg.On)),
		log: log,
	}
	for _, s := range cfg.On {
		d.on[probe.Status(s)] = true
	}
	if cfg.Ntfy.Topic != "" {
		d.channels = append(d.channels, NewNtfyChannel(cfg.Ntfy))
	}
	if cfg.Pushover.APIToken != "" && cfg.Pushover.UserKey != "" {
		d.channels = append(d.channels, NewPushoverChannel(cfg.Pushover))
	}
	return d
}

// Enabled reports whether any channel is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.channels) > 0
}

// NotifyResult sends the verdict to each channel in turn when its status is
// one of the trigger statuses. Send failures are logged only. It returns the
// number of channels that accepted the message.
func (d *Dispatcher) NotifyResult(ctx context.Context, check, appliance string, result *probe.Result) int {
	if !d.on[result.Status] {
		return 0
	}

	msg := FormatResult(check, appliance, result)
	sent := 0
	for _, ch := range d.channels {
		if err := ch.Send(ctx, msg); err != nil {
			d.log.Error("notification send failed",
				"channel_type", ch.Type(),
				"error", err,
			)
			continue
		}
		d.log.Debug("notification sent",
			"channel_type", ch.Type(),
			"check", check,
			"status", result.Status,
		)
		sent++
	}
	return sent
}
