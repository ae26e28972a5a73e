// Package analytics queries the GA4 BigQuery export for traffic rows.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

const (
	suffixLayout = "20060102"
	defaultEvent = "session_start"
)

// Config locates the events export. Table is the fully qualified wildcard
// table, e.g. "project.analytics_123456.events_*".
type Config struct {
	ProjectID       string
	Table           string
	CredentialsFile string
	Location        string
	EventName       string
}

// BigQuerySource implements ports.AnalyticsSource.
type BigQuerySource struct {
	client    *bigquery.Client
	table     string
	location  string
	eventName string
	logger    *slog.Logger
}

var _ ports.AnalyticsSource = (*BigQuerySource)(nil)

// NewBigQuerySource opens a BigQuery client for the configured project.
func NewBigQuerySource(ctx context.Context, cfg Config, logger *slog.Logger) (*BigQuerySource, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("analytics: project id is required")
	}
	if err := validateTable(cfg.Table); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}

	eventName := cfg.EventName
	if eventName == "" {
		eventName = defaultEvent
	}

	return &BigQuerySource{
		client:    client,
		table:     cfg.Table,
		location:  cfg.Location,
		eventName: eventName,
		logger:    logger,
	}, nil
}

// Close releases the client.
func (s *BigQuerySource) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

type eventRow struct {
	Day    string `bigquery:"day"`
	Value  string `bigquery:"value"`
	Metric int64  `bigquery:"metric"`
}

// QueryWindow counts events per day and dimension value inside window.
func (s *BigQuerySource) QueryWindow(ctx context.Context, dimension domain.Dimension, window domain.DateRange) ([]domain.AnalyticsRow, error) {
	sql, params, err := buildQuery(s.table, dimension, window, s.eventName)
	if err != nil {
		return nil, err
	}

	q := s.client.Query(sql)
	q.Parameters = params
	if s.location != "" {
		q.Location = s.location
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("run %s query for %s: %w", dimension, window, err))
	}

	var rows []domain.AnalyticsRow
	for {
		var r eventRow
		err := it.Next(&r)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(fmt.Errorf("read %s rows: %w", dimension, err))
		}
		row, err := toRow(dimension, r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if s.logger != nil {
		s.logger.Debug("analytics window loaded", "dimension", dimension, "window", window.String(), "rows", len(rows))
	}
	return rows, nil
}

func buildQuery(table string, dimension domain.Dimension, window domain.DateRange, eventName string) (string, []bigquery.QueryParameter, error) {
	if err := validateTable(table); err != nil {
		return "", nil, err
	}

	var valueExpr string
	switch dimension {
	case domain.DimensionSource:
		valueExpr = "CONCAT(IFNULL(traffic_source.source, '(direct)'), ' / ', IFNULL(traffic_source.medium, '(none)'))"
	case domain.DimensionCountry:
		valueExpr = "IFNULL(geo.country, '')"
	default:
		return "", nil, fmt.Errorf("unsupported dimension %q", dimension)
	}

	sql := fmt.Sprintf(`SELECT
  event_date AS day,
  %s AS value,
  COUNT(*) AS metric
FROM `+"`%s`"+`
WHERE event_name = @event_name
  AND _TABLE_SUFFIX BETWEEN @start_suffix AND @end_suffix
GROUP BY day, value`, valueExpr, table)

	params := []bigquery.QueryParameter{
		{Name: "event_name", Value: eventName},
		{Name: "start_suffix", Value: window.Start.Format(suffixLayout)},
		{Name: "end_suffix", Value: window.End.Format(suffixLayout)},
	}
	return sql, params, nil
}

func toRow(dimension domain.Dimension, r eventRow) (domain.AnalyticsRow, error) {
	day, err := time.ParseInLocation(suffixLayout, r.Day, time.UTC)
	if err != nil {
		return domain.AnalyticsRow{}, fmt.Errorf("unexpected event_date %q: %w", r.Day, domain.ErrFatalData)
	}
	return domain.AnalyticsRow{
		Date:           day,
		Dimension:      dimension,
		DimensionValue: strings.TrimSpace(r.Value),
		MetricValue:    r.Metric,
	}, nil
}

func validateTable(table string) error {
	if table == "" {
		return errors.New("analytics: table is required")
	}
	if strings.ContainsAny(table, "`;\n ") {
		return fmt.Errorf("analytics: invalid table name %q", table)
	}
	return nil
}

// classify marks rate limits and server errors as transient.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", domain.ErrTransientFetch, err)
		}
	}
	return err
}
