package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitOTLP points the metric pipeline at an OTLP/HTTP collector endpoint
// instead of stdout. Called by sydneyctl when --otlp-endpoint is given;
// must run before Init so the instruments bind to this provider.
func InitOTLP(ctx context.Context, endpoint string) error {
	exp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("observe: otlp metric exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	))
	return nil
}
