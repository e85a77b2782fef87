package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetStatus(t *testing.T) {
	all := []string{"active", "waiting", "available"}

	SetStatus("waiting", all...)
	if got := testutil.ToFloat64(Status.WithLabelValues("waiting")); got != 1 {
		t.Fatalf("expected waiting=1, got %v", got)
	}

	SetStatus("available", all...)
	if got := testutil.ToFloat64(Status.WithLabelValues("waiting")); got != 0 {
		t.Fatalf("expected waiting=0, got %v", got)
	}
	if got := testutil.ToFloat64(Status.WithLabelValues("available")); got != 1 {
		t.Fatalf("expected available=1, got %v", got)
	}
}
