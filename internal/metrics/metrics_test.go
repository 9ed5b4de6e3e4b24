package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDelivery(t *testing.T) {
	before := testutil.ToFloat64(EventsDelivered.WithLabelValues(OutcomePending))
	RecordDelivery(OutcomePending)
	RecordDelivery(OutcomePending)
	assert.Equal(t, before+2, testutil.ToFloat64(EventsDelivered.WithLabelValues(OutcomePending)))
}

func TestRecordNotification_SplitsByResult(t *testing.T) {
	sent := testutil.ToFloat64(NotificationsTotal.WithLabelValues("new_reservation", "sent"))
	failed := testutil.ToFloat64(NotificationsTotal.WithLabelValues("new_reservation", "failed"))

	RecordNotification("new_reservation", nil)
	RecordNotification("new_reservation", errors.New("gateway down"))

	assert.Equal(t, sent+1, testutil.ToFloat64(NotificationsTotal.WithLabelValues("new_reservation", "sent")))
	assert.Equal(t, failed+1, testutil.ToFloat64(NotificationsTotal.WithLabelValues("new_reservation", "failed")))
}

func TestRecordAPIRequest(t *testing.T) {
	RecordAPIRequest("POST", "/v1/reservations", 201, 15*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(APIRequestDuration), 1)
}
