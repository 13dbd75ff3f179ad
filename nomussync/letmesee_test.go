package nomussync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
)

func testLetmesee(srvURL string, batchSize int) BillingAPI {
	return NewLetmeseeClient(config.SyncOptions{
		LetmeseeBaseURL:  srvURL,
		LetmeseeToken:    "secret",
		InvoiceBatchSize: batchSize,
		HTTPTimeout:      5 * time.Second,
	})
}

func TestListTenants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/erp/nomus/listcustomers" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `[{"userGroupId":42,"name":"Acme","hashToken":"tok","baseUrl":"https://erp"}]`)
	}))
	defer srv.Close()

	tenants, err := testLetmesee(srv.URL, 100).ListTenants(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tenants) != 1 || tenants[0].GroupId != 42 || tenants[0].HashToken != "tok" {
		t.Errorf("tenants = %+v", tenants)
	}
}

func TestSendInvoicesBatches(t *testing.T) {
	var batches [][]RequestInvoice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/CustomerInvoice/add-list" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var batch []RequestInvoice
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Fatal(err)
		}
		batches = append(batches, batch)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	invoices := make([]RequestInvoice, 250)
	for i := range invoices {
		invoices[i] = RequestInvoice{InvoiceNumber: fmt.Sprint(i)}
	}
	if err := testLetmesee(srv.URL, 100).SendInvoices(context.Background(), invoices); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	if len(batches[0]) != 100 || len(batches[1]) != 100 || len(batches[2]) != 50 {
		t.Errorf("batch sizes = %d/%d/%d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestSendInvoicesEmptyIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	if err := testLetmesee(srv.URL, 100).SendInvoices(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("empty batch must not hit the API")
	}
}

func TestSendCustomersErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := testLetmesee(srv.URL, 100).SendCustomers(context.Background(), []RequestCustomer{{Name: "X"}})
	if err == nil {
		t.Fatal("expected an error for a 422 response")
	}
}
