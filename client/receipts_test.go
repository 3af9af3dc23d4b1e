package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/mintctl/service/engine"
	"github.com/brojonat/mintctl/service/tokenprog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReceipt() engine.Receipt {
	return engine.Receipt{
		Network:     "devnet",
		Operation:   engine.OpFreezeAccount,
		Signature:   "sig123",
		Account:     "acct123",
		Owner:       "owner123",
		Touched:     []string{"acct123"},
		Params:      map[string]any{"account": "acct123"},
		FeeLamports: 5_000_000,
		Variant:     tokenprog.VariantExtended,
		ConfirmedAt: time.Now().UTC(),
		Slot:        99,
	}
}

func TestReport_Success(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusOK} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/api/v1/receipts", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "freeze-account", body["operation"])
				assert.Equal(t, "extended", body["variant"])
				assert.Equal(t, "sig123", body["signature"])

				w.WriteHeader(status)
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			err := client.Report(context.Background(), engine.Credential{Token: "tok"}, testReceipt())
			assert.NoError(t, err)
		})
	}
}

func TestReport_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "receipt owner does not match credential",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.Report(context.Background(), engine.Credential{Token: "tok"}, testReceipt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	err = client.Report(context.Background(), engine.Credential{}, testReceipt())
	assert.ErrorContains(t, err, "no token")
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mainnet", r.URL.Query().Get("network"))
		switch r.URL.Path {
		case "/api/v1/receipts/sig123":
			json.NewEncoder(w).Encode(map[string]any{
				"network":             "mainnet",
				"signature":           "sig123",
				"operation":           "create-token",
				"owner":               "owner123",
				"mint":                "mint123",
				"verification_status": "verified",
				"fee_lamports":        50_000_000,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"receipt not found"}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	r, err := client.Get(context.Background(), "mainnet", "sig123")
	require.NoError(t, err)
	assert.Equal(t, "create-token", r.Operation)
	require.NotNil(t, r.Mint)
	assert.Equal(t, "mint123", *r.Mint)
	assert.True(t, r.Settled())

	_, err = client.Get(context.Background(), "mainnet", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/receipts", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "owner123", q.Get("owner"))
		assert.Equal(t, "devnet", q.Get("network"))
		assert.Equal(t, "2", q.Get("limit"))
		assert.Equal(t, "", q.Get("offset"))

		json.NewEncoder(w).Encode(map[string]any{
			"receipts": []map[string]any{
				{"signature": "a", "verification_status": "pending"},
				{"signature": "b", "verification_status": "rejected"},
			},
			"count": 2,
			"total": 7,
			"limit": 2,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	page, err := client.List(context.Background(), "owner123", ListOptions{Network: "devnet", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(7), page.Total)
	require.Len(t, page.Receipts, 2)
	assert.False(t, page.Receipts[0].Settled())
	assert.True(t, page.Receipts[1].Settled())
}

func TestList_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.List(context.Background(), "owner123", ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestQRCodeAndHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/receipts/sig123/qr":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNGdata"))
		case "/health":
			w.Write([]byte("OK"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	png, err := client.QRCode(context.Background(), "", "sig123")
	require.NoError(t, err)
	assert.Equal(t, "\x89PNGdata", string(png))
	assert.NoError(t, client.Health(context.Background()))
}

// sseServer serves a stored receipt for Get and streams the given events.
func sseServer(t *testing.T, stored string, events ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/receipts/sig123" {
			if stored == "" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(stored))
			return
		}

		assert.Equal(t, "/api/v1/stream/receipts/owner123", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		fmt.Fprint(w, "event: connected\ndata: {\"owner\":\"owner123\"}\n\n: keepalive\n\n")
		flusher.Flush()
		for _, ev := range events {
			fmt.Fprintf(w, "event: receipt\ndata: %s\n\n", ev)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
}

func TestAwait_FromStream(t *testing.T) {
	server := sseServer(t, `{"signature":"sig123","network":"devnet","verification_status":"pending"}`,
		`{"signature":"other","network":"devnet","verification_status":"verified"}`,
		`{"signature":"sig123","network":"devnet","verification_status":"pending"}`,
		`{"signature":"sig123","network":"devnet","verification_status":"verified","fee_lamports":5000000}`,
	)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewClient(server.URL, nil, nil).Await(ctx, "owner123", "devnet", "sig123")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, r.VerificationStatus)
	assert.Equal(t, int64(5_000_000), r.FeeLamports)
}

func TestAwait_AlreadySettled(t *testing.T) {
	server := sseServer(t, `{"signature":"sig123","network":"devnet","verification_status":"rejected","verification_reason":"fee transfer missing"}`)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewClient(server.URL, nil, nil).Await(ctx, "owner123", "devnet", "sig123")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, r.VerificationStatus)
	require.NotNil(t, r.VerificationReason)
}

func TestAwait_Timeout(t *testing.T) {
	server := sseServer(t, "")
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL, nil, nil).Await(ctx, "owner123", "devnet", "sig123")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
