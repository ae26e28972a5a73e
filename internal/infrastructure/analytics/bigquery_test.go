package analytics

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"InsightDigest/internal/domain"
)

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	window := domain.DateRange{
		Start: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC),
	}

	sql, params, err := buildQuery("proj.analytics_1.events_*", domain.DimensionSource, window, "session_start")
	if err != nil {
		t.Fatalf("buildQuery: %v", err)
	}
	if !strings.Contains(sql, "`proj.analytics_1.events_*`") || !strings.Contains(sql, "traffic_source.medium") {
		t.Fatalf("unexpected sql:\n%s", sql)
	}
	got := map[string]interface{}{}
	for _, p := range params {
		got[p.Name] = p.Value
	}
	if got["start_suffix"] != "20261015" || got["end_suffix"] != "20261017" || got["event_name"] != "session_start" {
		t.Fatalf("unexpected params: %v", got)
	}

	sql, _, err = buildQuery("proj.analytics_1.events_*", domain.DimensionCountry, window, "session_start")
	if err != nil || !strings.Contains(sql, "geo.country") {
		t.Fatalf("country query: %v\n%s", err, sql)
	}
}

func TestBuildQueryRejectsInjection(t *testing.T) {
	t.Parallel()

	if _, _, err := buildQuery("proj.t`; DROP", domain.DimensionSource, domain.DateRange{}, "e"); err == nil {
		t.Fatal("expected invalid table error")
	}
	if _, _, err := buildQuery("proj.t", domain.Dimension("DEVICE"), domain.DateRange{}, "e"); err == nil {
		t.Fatal("expected unsupported dimension error")
	}
}

func TestToRow(t *testing.T) {
	t.Parallel()

	row, err := toRow(domain.DimensionCountry, eventRow{Day: "20261016", Value: " France ", Metric: 12})
	if err != nil {
		t.Fatalf("toRow: %v", err)
	}
	if !row.Date.Equal(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)) || row.DimensionValue != "France" || row.MetricValue != 12 {
		t.Fatalf("unexpected row %+v", row)
	}

	if _, err := toRow(domain.DimensionCountry, eventRow{Day: "yesterday"}); !errors.Is(err, domain.ErrFatalData) {
		t.Fatalf("expected ErrFatalData, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	transient := classify(fmt.Errorf("query: %w", &googleapi.Error{Code: http.StatusServiceUnavailable}))
	if !errors.Is(transient, domain.ErrTransientFetch) {
		t.Fatalf("expected transient error, got %v", transient)
	}
	permanent := classify(fmt.Errorf("query: %w", &googleapi.Error{Code: http.StatusForbidden}))
	if errors.Is(permanent, domain.ErrTransientFetch) {
		t.Fatalf("403 must not be transient: %v", permanent)
	}
}
