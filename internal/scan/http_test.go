package scan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func scanServer(t *testing.T, handler func(w http.ResponseWriter, content string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scan", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "t1/a.png", r.FormValue("filePath"))
		handler(w, string(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPScannerClean(t *testing.T) {
	srv := scanServer(t, func(w http.ResponseWriter, content string) {
		assert.Equal(t, "harmless", content)
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "clean"})
	})
	s := NewHTTPScanner(srv.URL, time.Second, zap.NewNop())

	res, err := s.Scan(context.Background(), "t1/a.png", strings.NewReader("harmless"))
	require.NoError(t, err)
	assert.True(t, res.Clean)
}

func TestHTTPScannerInfected(t *testing.T) {
	srv := scanServer(t, func(w http.ResponseWriter, _ string) {
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "infected", "threat": "Eicar-Test-Signature"})
	})
	s := NewHTTPScanner(srv.URL, time.Second, zap.NewNop())

	res, err := s.Scan(context.Background(), "t1/a.png", strings.NewReader("X5O!P%@AP"))
	require.NoError(t, err)
	assert.False(t, res.Clean)
	assert.Equal(t, "Eicar-Test-Signature", res.Threat)
}

func TestHTTPScannerServerError(t *testing.T) {
	srv := scanServer(t, func(w http.ResponseWriter, _ string) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s := NewHTTPScanner(srv.URL, time.Second, zap.NewNop())

	_, err := s.Scan(context.Background(), "t1/a.png", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestHTTPScannerUnexpectedVerdict(t *testing.T) {
	srv := scanServer(t, func(w http.ResponseWriter, _ string) {
		_, _ = w.Write([]byte(`{"result":"maybe"}`))
	})
	s := NewHTTPScanner(srv.URL, time.Second, zap.NewNop())

	_, err := s.Scan(context.Background(), "t1/a.png", strings.NewReader("x"))
	assert.ErrorContains(t, err, "maybe")
}

func TestHTTPScannerTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPScanner(srv.URL, 50*time.Millisecond, zap.NewNop())
	start := time.Now()
	_, err := s.Scan(context.Background(), "t1/a.png", strings.NewReader("x"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPScannerBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPScanner(srv.URL, time.Second, zap.NewNop())
	for i := 0; i < 5; i++ {
		_, err := s.Scan(context.Background(), "t1/a.png", strings.NewReader("x"))
		require.Error(t, err)
	}
	_, err := s.Scan(context.Background(), "t1/a.png", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), calls.Load())
}

func TestDisabledScanner(t *testing.T) {
	res, err := Disabled{}.Scan(context.Background(), "k", strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, res.Clean)
}
