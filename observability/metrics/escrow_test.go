package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEscrowMetricsRecordOutcomes(t *testing.T) {
	m := Escrow()
	before := testutil.ToFloat64(m.transitions.WithLabelValues("refund", "ConsentMissing"))
	m.ObserveOperation("refund", "ConsentMissing", 5*time.Millisecond)
	m.ObserveOperation("refund", "", time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.transitions.WithLabelValues("refund", "ConsentMissing")))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.transitions.WithLabelValues("refund", "ok")), 1.0)

	m.SetCustodyBalance("0xaa", 42)
	require.Equal(t, 42.0, testutil.ToFloat64(m.custodyBalance.WithLabelValues("0xaa")))

	failures := testutil.ToFloat64(m.solvencyFailures)
	m.IncSolvencyFailure()
	require.Equal(t, failures+1, testutil.ToFloat64(m.solvencyFailures))

	m.SetOrdersInState("Created", 3)
	require.Equal(t, 3.0, testutil.ToFloat64(m.ordersByState.WithLabelValues("Created")))
}

func TestNilEscrowMetricsAreSafe(t *testing.T) {
	var m *EscrowMetrics
	m.ObserveOperation("x", "", time.Second)
	m.SetCustodyBalance("t", 1)
	m.IncSolvencyFailure()
	m.SetOrdersInState("Created", 1)
}
