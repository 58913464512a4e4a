package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(Actions.WithLabelValues("send", "ok"))
	Actions.WithLabelValues("send", Result(nil)).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Actions.WithLabelValues("send", "ok")))

	ChannelConnected.Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(ChannelConnected))
	ChannelConnected.Set(0)
}
