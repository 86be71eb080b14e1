package workers

import (
	"chat-core/observability"
	"context"
	"log/slog"
	"reflect"
	"time"
)

type NamedChannel struct {
	Name    string
	Channel any
}

// ChannelCapacityWorker periodically samples len/cap of internal queues into Prometheus gauges.
// len and cap never block, so sampling does not disturb producers or consumers.
type ChannelCapacityWorker struct {
	log            *slog.Logger
	channels       []NamedChannel
	metrics        *observability.Metrics
	metricInterval time.Duration
}

func NewChannelCapacityWorker(log *slog.Logger, channels []NamedChannel,
	metrics *observability.Metrics, metricInterval time.Duration) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:            log,
		channels:       channels,
		metrics:        metrics,
		metricInterval: metricInterval,
	}
}

func (w ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping queue sampling")
			return nil
		case <-ticker.C:
			w.sample()
		}
	}
}

func (w ChannelCapacityWorker) sample() {
	for _, nc := range w.channels {
		v := reflect.ValueOf(nc.Channel)
		if v.Kind() != reflect.Chan {
			w.log.Error("Provided object is not a channel", "name", nc.Name)
			continue
		}
		w.metrics.QueueLength.WithLabelValues(nc.Name).Set(float64(v.Len()))
		w.metrics.QueueCapacity.WithLabelValues(nc.Name).Set(float64(v.Cap()))
	}
}
