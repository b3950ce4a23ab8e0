package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
)

func TestSwitchClientDecodesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/claims", r.URL.Path)
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		assert.Equal(t, "claim-1", r.Header.Get("Idempotency-Key"))

		var req claims.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "610014", req.BIN)

		json.NewEncoder(w).Encode(claims.Response{
			Status:  claims.StatusRejected,
			Rejects: []claims.Reject{{Code: "75", Description: "prior authorization required"}},
		})
	}))
	defer srv.Close()

	c := NewSwitchClient(ClientConfig{BaseURL: srv.URL + "/", APIKey: "k1"}, nil)
	resp, err := c.Adjudicate(context.Background(), &claims.Request{
		ClaimID:        "claim-1",
		BIN:            "610014",
		IngredientCost: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.StatusRejected, resp.Status)
	assert.True(t, resp.HasRejectCode("75"))
}

func TestSwitchClientNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewSwitchClient(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.Adjudicate(context.Background(), &claims.Request{ClaimID: "c"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "maintenance", se.Body)
}

func TestPDMPClientFetchesRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q risk.Query
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, []string{"OH"}, q.States)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"records": []risk.Record{{PrescriptionID: "h1", DrugName: "oxycodone 5 mg", Quantity: 30, DaysSupply: 10}},
		})
	}))
	defer srv.Close()

	c := NewPDMPClient(ClientConfig{BaseURL: srv.URL}, nil)
	records, err := c.FetchHistory(context.Background(), risk.Query{PatientID: "p1", States: []string{"OH"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "h1", records[0].PrescriptionID)
}

func TestNotifierSignsPayload(t *testing.T) {
	var gotSig string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Rx-Signature")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewNotifier(ClientConfig{BaseURL: srv.URL, Timeout: time.Second}, "s3cret", nil, nil)
	err := n.Notify(context.Background(), &PickupNotice{
		EventID: "ev-1",
		Ready:   prescription.ReadyData{PrescriptionID: "rx-1", BinID: "A-001"},
		SentAt:  time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "sha256="+Sign(body, "s3cret"), gotSig)
}
