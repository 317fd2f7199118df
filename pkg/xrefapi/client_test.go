package xrefapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-intake/internal/resilience"
)

func TestLookup_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/cross-references/12345", r.URL.Path)
		assert.Equal(t, "12345678000190", r.URL.Query().Get("customer_tax_id"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Entry{
			VendorCode:          "12345",
			CustomerTaxID:       "12345678000190",
			InternalCode:        "INT-1",
			InternalDescription: "WIDGET",
			ConversionFactor:    "12",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", WithRateLimit(100))
	entry, err := client.Lookup(context.Background(), "12345", "12345678000190")

	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "INT-1", entry.InternalCode)
	assert.Equal(t, "12", entry.ConversionFactor)
}

func TestLookup_GenericOmitsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Entry{VendorCode: "9", InternalCode: "INT-9"})
	}))
	defer srv.Close()

	entry, err := NewClient(srv.URL, "").Lookup(context.Background(), "9", "")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "INT-9", entry.InternalCode)
}

func TestLookup_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	entry, err := NewClient(srv.URL, "k").Lookup(context.Background(), "404", "")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLookup_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Lookup(context.Background(), "1", "")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "503")
}

func TestLookup_BadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Lookup(context.Background(), "1", "")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestLookup_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Lookup(context.Background(), "1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xrefapi: unmarshal response")
}
