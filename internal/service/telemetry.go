package service

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Cheertaboi/storefront-order-service/internal/service"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func counter(name, description string) metric.Int64Counter {
	c, err := otel.Meter(instrumentationName).Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
