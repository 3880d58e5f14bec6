package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// GatewayCallLog is the audit record of one outbound gateway call. Payloads
// are never part of it.
type GatewayCallLog struct {
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method"`
	Endpoint       string    `json:"endpoint"`
	RequestID      string    `json:"request_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	StatusCode     int       `json:"status_code"`
	DurationMs     int64     `json:"duration_ms"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
}

// Logger handles OpenSearch logging operations
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger
func NewLogger(client *Client) *Logger {
	return &Logger{
		client: client,
	}
}

// LogGatewayCall indexes a gateway audit record.
func (l *Logger) LogGatewayCall(ctx context.Context, entry GatewayCallLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return l.index(ctx, GatewayIndex, entry)
}

// LogSystemEvent logs a system event to OpenSearch
func (l *Logger) LogSystemEvent(ctx context.Context, entry any) error {
	return l.index(ctx, SystemIndex, entry)
}

// SearchGatewayCalls returns the most recent audit records for an endpoint.
func (l *Logger) SearchGatewayCalls(ctx context.Context, endpoint string, size int) ([]GatewayCallLog, error) {
	if !l.client.IsEnabled() {
		return nil, fmt.Errorf("logging is disabled")
	}

	query, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"endpoint": endpoint}},
		"sort":  []map[string]any{{"timestamp": map[string]string{"order": "desc"}}},
		"size":  size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{GatewayIndex},
		Body:  bytes.NewReader(query),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source GatewayCallLog `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	logs := make([]GatewayCallLog, len(result.Hits.Hits))
	for i, hit := range result.Hits.Hits {
		logs[i] = hit.Source
	}
	return logs, nil
}

func (l *Logger) index(ctx context.Context, index string, doc any) error {
	if !l.client.IsEnabled() {
		return nil
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index log: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error: %s", res.String())
	}

	return nil
}

var sensitivePatterns = func() []*regexp.Regexp {
	fields := []string{
		"token", "card_token_id", "security_code", "card_number", "access_token",
		"authorization", "number", "qr_code", "qr_code_base64",
	}
	out := make([]*regexp.Regexp, 0, len(fields))
	for _, field := range fields {
		out = append(out, regexp.MustCompile(fmt.Sprintf(`"%s"\s*:\s*"[^"]*"`, field)))
	}
	return out
}()

// SanitizeForLog redacts card data and credentials from a JSON payload.
func SanitizeForLog(data string) string {
	result := data
	for _, re := range sensitivePatterns {
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			idx := strings.IndexByte(match, ':')
			return match[:idx] + `:"***REDACTED***"`
		})
	}
	return result
}
