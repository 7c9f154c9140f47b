package tracing

import (
	"errors"
	"testing"

	"github.com/smallbiznis/carbonledger/pkg/errs"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/transactions/:id/verify"),
		attribute.String("payment_reference", "INV-1"),
		attribute.String("image_proof", "s3://bucket/a.jpg"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(errs.Conflict(errors.New("verification_exists"))), "conflict")
	assert.EqualError(t, SafeError(errors.New("pq: relation does not exist")), "internal_error")
}
