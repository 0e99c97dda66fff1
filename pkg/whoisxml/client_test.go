package whoisxml

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhois_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/whoisserver/WhoisService", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apiKey"))
		assert.Equal(t, "acme.example", r.URL.Query().Get("domainName"))
		assert.Equal(t, "JSON", r.URL.Query().Get("outputFormat"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"WhoisRecord": {
				"domainName": "acme.example",
				"registrarName": "Example Registrar LLC",
				"createdDate": "2010-04-01T00:00:00Z",
				"expiresDate": "2027-04-01T00:00:00Z",
				"registrant": {"organization": "Acme Corp", "country": "US"}
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.Whois(context.Background(), "acme.example")
	require.NoError(t, err)
	assert.Equal(t, "Example Registrar LLC", resp.WhoisRecord.RegistrarName)

	created, ok := resp.WhoisRecord.CreatedAt()
	require.True(t, ok)
	assert.Equal(t, 2010, created.Year())
}

func TestWhoisRecord_DateFallsBackToRegistryData(t *testing.T) {
	rec := WhoisRecord{
		RegistryData: RegistryData{CreatedDate: "2015-06-15T00:00:00Z"},
	}
	created, ok := rec.CreatedAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2015, 6, 15, 0, 0, 0, 0, time.UTC), created.UTC())

	_, ok = rec.ExpiresAt()
	assert.False(t, ok)
}

func TestWhoisRecord_DateFormats(t *testing.T) {
	for _, raw := range []string{
		"2020-01-02T03:04:05Z",
		"2020-01-02T03:04:05-0700",
		"2020-01-02",
	} {
		rec := WhoisRecord{CreatedDate: raw}
		if _, ok := rec.CreatedAt(); !ok {
			t.Errorf("failed to parse %q", raw)
		}
	}
}

func TestWhois_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Whois(context.Background(), "acme.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}
