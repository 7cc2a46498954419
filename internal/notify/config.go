package notify

import (
	"strings"

	"caseline/internal/config"
)

// SinksFromConfig builds the configured sinks. The returned func drains any
// NATS connection and is safe to call when nothing was opened.
func SinksFromConfig(cfg *config.Config) ([]Sink, func(), error) {
	closeFn := func() {}
	if cfg == nil {
		return nil, closeFn, nil
	}
	var sinks []Sink
	for _, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sinks = append(sinks, NewWebhook(hook))
	}
	if url := strings.TrimSpace(cfg.NATS.URL); url != "" {
		sink, nc, err := DialNATS(url, cfg.NATS.SubjectPrefix, cfg.NATS.Events)
		if err != nil {
			return nil, closeFn, err
		}
		sinks = append(sinks, sink)
		closeFn = func() { _ = nc.Drain() }
	}
	return sinks, closeFn, nil
}
