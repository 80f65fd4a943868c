package monitor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/stijnh/kernel-launcher/internal/logger"
)

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestListAndGetTuners(t *testing.T) {
	t.Parallel()

	s := NewServer(logger.Discard())
	id := s.Register("vector_add", func() TunerStatus {
		return TunerStatus{
			Kernel:          "vector_add",
			State:           "tuning",
			Evaluations:     3,
			BestPerformance: 42,
		}
	})
	if !strings.HasPrefix(id, "tune-") {
		t.Fatalf("unexpected id %q", id)
	}

	rec := doGet(t, s, "/v1/tuners")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status: %d body=%s", rec.Code, rec.Body.String())
	}
	var listed struct {
		Tuners []TunerStatus `json:"tuners"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Tuners) != 1 {
		t.Fatalf("listed %d tuners, want 1", len(listed.Tuners))
	}
	got := listed.Tuners[0]
	if got.ID != id || got.Name != "vector_add" || got.Evaluations != 3 {
		t.Fatalf("unexpected listing: %+v", got)
	}

	rec = doGet(t, s, "/v1/tuners/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status: %d body=%s", rec.Code, rec.Body.String())
	}
	var single TunerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &single); err != nil {
		t.Fatalf("decode get: %v", err)
	}
	if single.BestPerformance != 42 || single.State != "tuning" {
		t.Fatalf("unexpected status: %+v", single)
	}
}

func TestUnknownTuner(t *testing.T) {
	t.Parallel()

	s := NewServer(logger.Discard())
	rec := doGet(t, s, "/v1/tuners/tune-missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	s := NewServer(logger.Discard())
	id := s.Register("k", func() TunerStatus { return TunerStatus{} })
	s.Unregister(id)

	rec := doGet(t, s, "/v1/tuners/"+id)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after unregister, got %d", rec.Code)
	}
}
