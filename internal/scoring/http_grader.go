package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/llm"
	"github.com/abhisek/cefrquest/internal/store"
)

const (
	maxResponseBytes = 1 << 20
	maxLoggedBody    = 8 << 10
)

// HTTPGrader posts batched items to a grading service.
type HTTPGrader struct {
	url    string
	client *http.Client
	events store.EventRepo
	log    *zap.Logger
}

// NewHTTPGrader creates a grader for url. events may be nil.
func NewHTTPGrader(url string, timeout time.Duration, events store.EventRepo, log *zap.Logger) *HTTPGrader {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPGrader{
		url:    url,
		client: &http.Client{Timeout: timeout},
		events: events,
		log:    log,
	}
}

func (g *HTTPGrader) Name() string { return "http" }

func (g *HTTPGrader) Grade(ctx context.Context, req GradeRequest) (*GradeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode grade request: %w", err)
	}

	start := time.Now()
	raw, err := g.post(ctx, body)
	latency := time.Since(start)

	var resp GradeResponse
	if err == nil {
		err = llm.ValidateJSON(GradeResponseSchema, raw)
	}
	if err == nil {
		if uerr := json.Unmarshal(raw, &resp); uerr != nil {
			err = fmt.Errorf("decode grade response: %w", uerr)
		}
	}

	g.record(ctx, body, raw, latency, err)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *HTTPGrader) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build grade request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("grade request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read grade response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return raw, fmt.Errorf("grader returned %s", httpResp.Status)
	}
	return raw, nil
}

func (g *HTTPGrader) record(ctx context.Context, reqBody, respBody []byte, latency time.Duration, err error) {
	if g.events == nil {
		return
	}
	data := store.GradingEventData{
		Backend:      g.Name(),
		Model:        g.url,
		Purpose:      llm.PurposeFrom(ctx),
		TaskID:       llm.TaskFrom(ctx),
		LatencyMs:    latency.Milliseconds(),
		Success:      err == nil,
		RequestBody:  truncate(reqBody),
		ResponseBody: truncate(respBody),
	}
	if err != nil {
		data.ErrorMessage = err.Error()
	}
	// The grading call already finished; a cancelled caller should not
	// lose the record.
	if aerr := g.events.AppendGradingEvent(context.WithoutCancel(ctx), data); aerr != nil {
		g.log.Warn("record grading event failed", zap.Error(aerr))
	}
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "…"
	}
	return string(b)
}
