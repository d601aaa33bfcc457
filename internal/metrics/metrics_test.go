package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/joshdurbin/product-cache/internal/domain"
)

func TestRecordResponse(t *testing.T) {
	before := testutil.ToFloat64(responsesTotal.WithLabelValues(string(domain.SourceDurable)))
	RecordResponse(domain.SourceDurable)
	assert.Equal(t, before+1, testutil.ToFloat64(responsesTotal.WithLabelValues(string(domain.SourceDurable))))
}

func TestRecordUpstreamCall(t *testing.T) {
	before := testutil.ToFloat64(upstreamCallsTotal.WithLabelValues(OutcomeRateLimited))
	RecordUpstreamCall(OutcomeRateLimited, 120*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(upstreamCallsTotal.WithLabelValues(OutcomeRateLimited)))
}

func TestRecordTierError(t *testing.T) {
	before := testutil.ToFloat64(tierErrorsTotal.WithLabelValues("fast", "get"))
	RecordTierError("fast", "get")
	assert.Equal(t, before+1, testutil.ToFloat64(tierErrorsTotal.WithLabelValues("fast", "get")))
}

func TestRecordDropped(t *testing.T) {
	before := testutil.ToFloat64(enrichmentDroppedTotal.WithLabelValues("no_price"))
	RecordDropped("no_price", 3)
	RecordDropped("no_price", 0)
	assert.Equal(t, before+3, testutil.ToFloat64(enrichmentDroppedTotal.WithLabelValues("no_price")))
}
