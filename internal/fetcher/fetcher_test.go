package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
	"reconciliation-service/internal/shopify"
)

func testConn() models.ShopConnection {
	return models.ShopConnection{
		TenantID:    "tenant-1",
		ShopDomain:  "demo.myshopify.com",
		AccessToken: "shpat_test",
		Currency:    "USD",
		Timezone:    "UTC",
	}
}

func testOpts(baseURL string) shopify.ClientOptions {
	return shopify.ClientOptions{
		BaseURL:        baseURL,
		MaxRetries:     2,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		Timeout:        2 * time.Second,
	}
}

func marchWindow(t *testing.T) models.Window {
	t.Helper()
	window, err := models.NewWindow("2024-03-01", "2024-03-01", time.UTC)
	require.NoError(t, err)
	return window
}

const emptyOrders = `{"orders":[]}`

// transactionsFor answers the per-order transactions endpoint with a single
// successful sale so enrichment is observable downstream.
func transactionsFor(w http.ResponseWriter) {
	w.Write([]byte(`{"transactions":[{"id":900,"kind":"sale","status":"success","amount":"10.00","processed_at":"2024-03-01T10:00:05Z"}]}`))
}

func TestFetchWindowMergesCreatedAndRefundWidenedOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case strings.HasSuffix(r.URL.Path, "/transactions.json"):
			transactionsFor(w)

		case q.Get("created_at_min") != "":
			w.Write([]byte(`{"orders":[
				{"id":1,"name":"#1001","created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-01T10:00:00Z","currency":"USD"},
				{"id":2,"name":"#1002","created_at":"2024-03-01T11:00:00Z","updated_at":"2024-03-01T11:00:00Z","currency":"USD"}
			]}`))

		case q.Get("updated_at_min") != "":
			// Order 2 reappears (dedupe), 3 carries a refund processed
			// inside the window, 4 refunded before it, 5 has no refund.
			w.Write([]byte(`{"orders":[
				{"id":2,"name":"#1002","created_at":"2024-03-01T11:00:00Z","updated_at":"2024-03-01T11:00:00Z","currency":"USD"},
				{"id":3,"name":"#0912","created_at":"2024-02-20T09:00:00Z","updated_at":"2024-03-01T12:00:00Z","currency":"USD",
					"refunds":[{"id":31,"created_at":"2024-03-01T12:00:00Z","processed_at":"2024-03-01T12:00:00Z"}]},
				{"id":4,"name":"#0955","created_at":"2024-02-25T09:00:00Z","updated_at":"2024-03-01T08:00:00Z","currency":"USD",
					"refunds":[{"id":41,"created_at":"2024-02-26T09:00:00Z","processed_at":"2024-02-26T09:00:00Z"}]},
				{"id":5,"name":"#0970","created_at":"2024-02-22T09:00:00Z","updated_at":"2024-03-01T09:00:00Z","currency":"USD"}
			]}`))

		default:
			w.Write([]byte(emptyOrders))
		}
	}))
	defer srv.Close()

	f := New(testOpts(srv.URL), 250)

	orders, err := f.FetchWindow(context.Background(), testConn(), marchWindow(t), true)
	require.NoError(t, err)
	require.Len(t, orders, 3)

	var ids []int64
	for _, o := range orders {
		ids = append(ids, o.ID)
		assert.Len(t, o.Transactions, 1, "order %d must be enriched with its transactions", o.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestFetchWindowSkipsTestOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case strings.HasSuffix(r.URL.Path, "/transactions.json"):
			transactionsFor(w)
		case q.Get("created_at_min") != "":
			w.Write([]byte(`{"orders":[
				{"id":1,"name":"#1001","created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-01T10:00:00Z","currency":"USD","test":true},
				{"id":2,"name":"#1002","created_at":"2024-03-01T11:00:00Z","updated_at":"2024-03-01T11:00:00Z","currency":"USD"}
			]}`))
		default:
			w.Write([]byte(emptyOrders))
		}
	}))
	defer srv.Close()

	f := New(testOpts(srv.URL), 250)
	ctx := context.Background()

	orders, err := f.FetchWindow(ctx, testConn(), marchWindow(t), true)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(2), orders[0].ID)

	orders, err = f.FetchWindow(ctx, testConn(), marchWindow(t), false)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestFetchWindowPaginatesWithCursor(t *testing.T) {
	var cursorRequests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case strings.HasSuffix(r.URL.Path, "/transactions.json"):
			transactionsFor(w)

		case q.Get("page_info") == "page-2":
			cursorRequests++
			assert.Empty(t, q.Get("created_at_min"))
			w.Write([]byte(`{"orders":[
				{"id":3,"name":"#1003","created_at":"2024-03-01T12:00:00Z","updated_at":"2024-03-01T12:00:00Z","currency":"USD"}
			]}`))

		case q.Get("created_at_min") != "":
			w.Header().Set("Link",
				`<https://demo.myshopify.com/admin/api/2023-10/orders.json?limit=2&page_info=page-2>; rel="next"`)
			w.Write([]byte(`{"orders":[
				{"id":1,"name":"#1001","created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-01T10:00:00Z","currency":"USD"},
				{"id":2,"name":"#1002","created_at":"2024-03-01T11:00:00Z","updated_at":"2024-03-01T11:00:00Z","currency":"USD"}
			]}`))

		default:
			w.Write([]byte(emptyOrders))
		}
	}))
	defer srv.Close()

	f := New(testOpts(srv.URL), 2)

	orders, err := f.FetchWindow(context.Background(), testConn(), marchWindow(t), true)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
	assert.Equal(t, 1, cursorRequests)
}

func TestFetchWindowPropagatesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := New(testOpts(srv.URL), 250)

	_, err := f.FetchWindow(context.Background(), testConn(), marchWindow(t), true)
	require.Error(t, err)

	var authErr *errs.AuthError
	assert.True(t, errors.As(err, &authErr))
}
