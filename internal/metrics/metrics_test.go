package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOracle(t *testing.T) {
	okBefore := testutil.ToFloat64(OracleCalls.WithLabelValues("compare", "ok"))
	errBefore := testutil.ToFloat64(OracleCalls.WithLabelValues("compare", "error"))

	ObserveOracle("compare", time.Now(), nil)
	ObserveOracle("compare", time.Now(), errors.New("boom"))
	ObserveOracle("compare", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(OracleCalls.WithLabelValues("compare", "ok")) - okBefore; got != 1 {
		t.Errorf("ok calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(OracleCalls.WithLabelValues("compare", "error")) - errBefore; got != 2 {
		t.Errorf("error calls = %v, want 2", got)
	}
}
