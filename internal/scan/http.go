package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("virus scanner unavailable")

type scanResponse struct {
	Result string `json:"result"`
	Threat string `json:"threat"`
}

// HTTPScanner posts files to a ClamAV REST gateway at {endpoint}/scan and
// expects {"result":"clean"|"infected","threat":"..."} back. Calls are
// bounded by timeout and guarded by a circuit breaker so a dead scanner costs
// one fast failure per upload instead of a full timeout.
type HTTPScanner struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
}

// NewHTTPScanner builds a scanner for endpoint.
func NewHTTPScanner(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPScanner {
	st := gobreaker.Settings{
		Name:        "virus-scan",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &HTTPScanner{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{},
		cb:       gobreaker.NewCircuitBreaker(st),
	}
}

func (s *HTTPScanner) Scan(ctx context.Context, name string, content io.Reader) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.post(ctx, name, content)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

func (s *HTTPScanner) post(ctx context.Context, name string, content io.Reader) (Result, error) {
	// Stream the multipart body so large videos are never buffered in memory.
	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, name, content))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/scan", pr)
	if err != nil {
		return Result{}, fmt.Errorf("build scan request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("scan request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("scan service returned %s", resp.Status)
	}

	var sr scanResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return Result{}, fmt.Errorf("decode scan response: %w", err)
	}
	switch sr.Result {
	case "clean":
		return Result{Clean: true}, nil
	case "infected":
		threat := sr.Threat
		if threat == "" {
			threat = "unknown"
		}
		return Result{Threat: threat}, nil
	default:
		return Result{}, fmt.Errorf("unexpected scan result %q", sr.Result)
	}
}

func writeForm(mw *multipart.Writer, name string, content io.Reader) error {
	if err := mw.WriteField("filePath", name); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", path.Base(name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("read file for scan: %w", err)
	}
	return mw.Close()
}
