package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retina-screening-gateway/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:   baseURL,
		Timeout:   2 * time.Second,
		RateLimit: 100,
		// Keep the breaker effectively out of the way for single-call tests.
		BreakerInterval: time.Minute,
		BreakerTimeout:  time.Minute,
	}, testLogger())
}

func submission() domain.SubmissionRequest {
	return domain.SubmissionRequest{
		ReportID:  "#12345",
		ImageName: "scan.png",
		ImageData: []byte{0x89, 0x50, 0x4e, 0x47},
		Record:    domain.PatientRecord{Name: "Asha", Age: 54, Gender: domain.GenderFemale, PatientID: "VEC-123456789"},
	}
}

func TestClassifySuccess(t *testing.T) {
	var gotFields map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/predict", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		gotFields = map[string]string{}
		for _, k := range []string{"name", "age", "gender", "patient_id", "report_id"} {
			gotFields[k] = r.FormValue(k)
		}

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		file.Close()

		json.NewEncoder(w).Encode(map[string]any{
			"report_id":      r.FormValue("report_id"),
			"is_safe":        false,
			"grade":          "Severe NPDR",
			"severity_index": 2,
			"risk_score":     68,
			"details":        map[string]int{"moderate": 22, "severe": 61, "pdr": 9},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.Classify(context.Background(), submission())
	require.NoError(t, err)

	assert.Equal(t, domain.ReportID("#12345"), result.ReportID)
	assert.False(t, result.IsSafe)
	assert.Equal(t, 2, result.SeverityIndex)
	assert.Equal(t, 68, result.RiskScore)
	require.NotNil(t, result.Details)
	assert.Equal(t, 61, result.Details.Severe)
	assert.False(t, result.ReceivedAt.IsZero())

	assert.Equal(t, "Asha", gotFields["name"])
	assert.Equal(t, "54", gotFields["age"])
	assert.Equal(t, "Female", gotFields["gender"])
}

func TestClassifyTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := newTestClient(server.URL)
	_, err := client.Classify(context.Background(), submission())

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.NotEmpty(t, te.Reason)
}

func TestClassifyServerErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model unavailable"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Classify(context.Background(), submission())

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "model unavailable", te.Reason)
}

func TestClassifyErrorFieldWithOKStatus(t *testing.T) {
	// The original backend reports some failures as 200 + {"error": ...};
	// those must still fail, never parse as a half-populated result.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "unreadable image"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Classify(context.Background(), submission())

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "unreadable image", te.Reason)
}

func TestClassifyMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>gateway timeout</html>"},
		{"missing report_id", `{"is_safe":true,"severity_index":0}`},
		{"missing severity_index", `{"report_id":"#12345","is_safe":true}`},
		{"missing is_safe", `{"report_id":"#12345","severity_index":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.Classify(context.Background(), submission())
			assert.ErrorIs(t, err, domain.ErrMalformedResponse)
		})
	}
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for i := 0; i < 5; i++ {
		_, err := client.Classify(context.Background(), submission())
		require.Error(t, err)
	}

	_, err := client.Classify(context.Background(), submission())
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Reason, "temporarily unavailable")
}

func TestListReports(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reports", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"report_id":      "#11111",
				"name":           "Asha",
				"age":            54,
				"gender":         "Female",
				"is_safe":        true,
				"severity_index": 0,
				"risk_score":     4,
				"timestamp":      now,
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	entries, err := client.ListReports(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ReportID("#11111"), entries[0].ReportID)
	assert.Equal(t, "Asha", entries[0].PatientName)
	assert.Equal(t, domain.GenderFemale, entries[0].Gender)
}

func TestFetchDocument(t *testing.T) {
	ready := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"pdf_url": "https://cdn.example/report.pdf"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	ref, err := client.FetchDocument(context.Background(), "#12345")
	require.NoError(t, err)
	assert.Empty(t, ref, "absent document is not an error")

	ready = true
	ref, err = client.FetchDocument(context.Background(), "#12345")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/report.pdf", ref)
}
