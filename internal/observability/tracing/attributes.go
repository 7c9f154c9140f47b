package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/carbonledger/pkg/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"payment_reference": {},
	"image_proof":       {},
	"authorization":     {},
}

// ExtractContext pulls upstream trace context from carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that may carry payment or proof data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attribute.Key(strings.ToLower(string(attr.Key)))]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces err to its classification so spans never carry SQL or payloads.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	if kind := errs.KindOf(err); kind != "" {
		return errors.New(string(kind))
	}
	return errors.New("internal_error")
}
