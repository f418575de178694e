package bullhorn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"bullhorn-gateway/internal/metrics"
)

// MaxCount is the largest page the REST API returns; results beyond it are dropped.
const MaxCount = 500

var entityNamePattern = regexp.MustCompile(`^[A-Za-z]+$`)

type EntityQuery struct {
	Entity    string
	DateField string
	Range     DateRange
	Fields    []string
	Where     string
	OrderBy   string
	Count     int
}

type QueryClient struct {
	httpClient *http.Client
}

func NewQueryClient(cfg Config) *QueryClient {
	cfg = cfg.withDefaults()
	return &QueryClient{httpClient: cfg.HTTPClient}
}

type listResponse struct {
	Total int              `json:"total"`
	Count int              `json:"count"`
	Data  []map[string]any `json:"data"`
}

// BuildWhere renders the date bounds of q plus any extra clause.
func BuildWhere(q EntityQuery) string {
	clauses := make([]string, 0, 3)

	if q.DateField != "" && !q.Range.Start.IsZero() {
		clauses = append(clauses,
			fmt.Sprintf("%s>=%d", q.DateField, q.Range.StartMillis()),
			fmt.Sprintf("%s<=%d", q.DateField, q.Range.EndMillis()),
		)
	}
	if extra := strings.TrimSpace(q.Where); extra != "" {
		clauses = append(clauses, extra)
	}

	return strings.Join(clauses, " AND ")
}

func clampCount(count int) int {
	if count <= 0 || count > MaxCount {
		return MaxCount
	}
	return count
}

func (c *QueryClient) FetchEntity(ctx context.Context, session Session, q EntityQuery) ([]map[string]any, error) {
	if !entityNamePattern.MatchString(q.Entity) {
		return nil, fmt.Errorf("fetch entity: invalid entity name %q", q.Entity)
	}
	if len(q.Fields) == 0 {
		return nil, errors.New("fetch entity: no fields requested")
	}

	where := BuildWhere(q)
	if where == "" {
		return nil, errors.New("fetch entity: empty where clause")
	}

	params := url.Values{}
	params.Set("BhRestToken", session.BhRestToken)
	params.Set("where", where)
	params.Set("fields", strings.Join(q.Fields, ","))
	params.Set("count", strconv.Itoa(clampCount(q.Count)))
	if q.OrderBy != "" {
		params.Set("orderBy", q.OrderBy)
	}

	return c.list(ctx, q.Entity, restEndpoint(session.RestURL, "query", q.Entity)+"?"+params.Encode())
}

// SearchEntity runs a Lucene search such as "isOpen:1" against entity.
func (c *QueryClient) SearchEntity(ctx context.Context, session Session, entity, query string, fields []string, count int) ([]map[string]any, error) {
	if !entityNamePattern.MatchString(entity) {
		return nil, fmt.Errorf("search entity: invalid entity name %q", entity)
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search entity: empty query")
	}

	params := url.Values{}
	params.Set("BhRestToken", session.BhRestToken)
	params.Set("query", query)
	params.Set("count", strconv.Itoa(clampCount(count)))
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}

	return c.list(ctx, entity, restEndpoint(session.RestURL, "search", entity)+"?"+params.Encode())
}

func (c *QueryClient) list(ctx context.Context, entity, rawURL string) ([]map[string]any, error) {
	var payload listResponse
	status, errBody, err := getJSON(ctx, c.httpClient, rawURL, &payload)
	if err != nil {
		metrics.IncrementQuery(entity, false)
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}
	if status < 200 || status >= 300 {
		metrics.IncrementQuery(entity, false)
		return nil, &APIError{Entity: entity, Status: status, Body: errBody}
	}

	metrics.IncrementQuery(entity, true)
	if payload.Data == nil {
		return []map[string]any{}, nil
	}
	return payload.Data, nil
}
