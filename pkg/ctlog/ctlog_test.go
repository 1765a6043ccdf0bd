package ctlog

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ct "github.com/google/certificate-transparency-go"
	cttls "github.com/google/certificate-transparency-go/tls"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// selfSignedDER builds a throwaway certificate for feeding into fake
// log entries.
func selfSignedDER(t *testing.T, cn string, sans ...string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     sans,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return der
}

func x509Leaf(t *testing.T, der []byte) ct.LeafEntry {
	t.Helper()
	leaf := ct.MerkleTreeLeaf{
		Version:  ct.V1,
		LeafType: ct.TimestampedEntryLeafType,
		TimestampedEntry: &ct.TimestampedEntry{
			Timestamp: uint64(time.Now().UnixMilli()),
			EntryType: ct.X509LogEntryType,
			X509Entry: &ct.ASN1Cert{Data: der},
		},
	}
	input, err := cttls.Marshal(leaf)
	if err != nil {
		t.Fatalf("marshal leaf: %v", err)
	}
	extra, err := cttls.Marshal(ct.CertificateChain{})
	if err != nil {
		t.Fatalf("marshal chain: %v", err)
	}
	return ct.LeafEntry{LeafInput: input, ExtraData: extra}
}

func precertLeaf(t *testing.T, der []byte) ct.LeafEntry {
	t.Helper()
	leaf := ct.MerkleTreeLeaf{
		Version:  ct.V1,
		LeafType: ct.TimestampedEntryLeafType,
		TimestampedEntry: &ct.TimestampedEntry{
			Timestamp: uint64(time.Now().UnixMilli()),
			EntryType: ct.PrecertLogEntryType,
			PrecertEntry: &ct.PreCert{
				TBSCertificate: tbsFromDER(t, der),
			},
		},
	}
	input, err := cttls.Marshal(leaf)
	if err != nil {
		t.Fatalf("marshal leaf: %v", err)
	}
	extra, err := cttls.Marshal(ct.PrecertChainEntry{
		PreCertificate: ct.ASN1Cert{Data: der},
	})
	if err != nil {
		t.Fatalf("marshal precert chain: %v", err)
	}
	return ct.LeafEntry{LeafInput: input, ExtraData: extra}
}

// tbsFromDER pulls the TBSCertificate element out of a DER certificate.
func tbsFromDER(t *testing.T, der []byte) []byte {
	t.Helper()
	var outer asn1.RawValue
	if _, err := asn1.Unmarshal(der, &outer); err != nil {
		t.Fatalf("unmarshal certificate: %v", err)
	}
	var tbs asn1.RawValue
	if _, err := asn1.Unmarshal(outer.Bytes, &tbs); err != nil {
		t.Fatalf("unmarshal tbs: %v", err)
	}
	return tbs.FullBytes
}

// fakeLog serves a minimal RFC 6962 log whose tree grows as entries
// are appended.
type fakeLog struct {
	mu         sync.Mutex
	entries    []ct.LeafEntry
	failSTH    int
	sthSuccess atomic.Int32
}

func (f *fakeLog) append(entries ...ct.LeafEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
}

func (f *fakeLog) handleSTH(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	size := uint64(len(f.entries))
	fail := f.failSTH > 0
	if fail {
		f.failSTH--
	}
	f.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	// An empty DigitallySigned blob; clients without the log key skip
	// signature verification.
	resp := ct.GetSTHResponse{
		TreeSize:          size,
		Timestamp:         uint64(time.Now().UnixMilli()),
		SHA256RootHash:    make([]byte, 32),
		TreeHeadSignature: []byte{4, 3, 0, 0},
	}
	if err := json.NewEncoder(w).Encode(resp); err == nil {
		f.sthSuccess.Add(1)
	}
}

func (f *fakeLog) handleEntries(w http.ResponseWriter, r *http.Request) {
	start, err1 := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	end, err2 := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err1 != nil || err2 != nil || start < 0 || start >= int64(len(f.entries)) {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}
	if end >= int64(len(f.entries)) {
		end = int64(len(f.entries)) - 1
	}
	_ = json.NewEncoder(w).Encode(ct.GetEntriesResponse{Entries: f.entries[start : end+1]})
}

// newLogEnv serves fl plus a log list that points at it, returning the
// list URL.
func newLogEnv(t *testing.T, fl *fakeLog) string {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/ct/v1/get-sth", fl.handleSTH)
	mux.HandleFunc("/ct/v1/get-entries", fl.handleEntries)
	mux.HandleFunc("/list.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"operators":[{"name":"test","email":["ops@example.com"],"logs":[{"description":"test log","log_id":"dGVzdA==","key":"","url":%q,"mmd":86400,"state":{"usable":{"timestamp":"2024-01-01T00:00:00Z"}}}]}]}`, srv.URL+"/")
	})
	return srv.URL + "/list.json"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 5s")
}

func TestEntryDomains(t *testing.T) {
	certLeaf := x509Leaf(t, selfSignedDER(t, "phish-acme.com", "phish-acme.com", "login.phish-acme.com"))
	preLeaf := precertLeaf(t, selfSignedDER(t, "", "mail.example.net", "example.net"))
	junk := ct.LeafEntry{LeafInput: []byte("not a leaf"), ExtraData: []byte("junk")}

	tests := []struct {
		name string
		leaf ct.LeafEntry
		want []string
	}{
		{
			name: "x509 dedupes common name against sans",
			leaf: certLeaf,
			want: []string{"phish-acme.com", "login.phish-acme.com"},
		},
		{
			name: "precert names come from the tbs certificate",
			leaf: preLeaf,
			want: []string{"mail.example.net", "example.net"},
		},
		{
			name: "unparseable entry yields nothing",
			leaf: junk,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entryDomains(0, &tt.leaf)
			if len(got) != len(tt.want) {
				t.Fatalf("entryDomains() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entryDomains()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSourceStreamsNewEntries(t *testing.T) {
	fl := &fakeLog{}
	src := New(newLogEnv(t, fl), "certsquat-test", testLogger())
	src.pollEvery = 10 * time.Millisecond
	src.retryAfter = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx) }()

	// Entries appended before the first tree head would never be
	// emitted, so wait for the tail to establish its start point.
	waitFor(t, func() bool { return fl.sthSuccess.Load() > 0 })
	fl.append(
		x509Leaf(t, selfSignedDER(t, "phish-paypal.com", "phish-paypal.com", "www.phish-paypal.com")),
		x509Leaf(t, selfSignedDER(t, "benign.example.org")),
	)

	want := []string{"phish-paypal.com", "www.phish-paypal.com", "benign.example.org"}
	for i, w := range want {
		select {
		case got := <-src.Domains():
			if got != w {
				t.Errorf("domain %d = %q, want %q", i, got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for domain %d (%q)", i, w)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-src.Domains(); ok {
		t.Error("Domains channel still open after Run returned")
	}
}

func TestSourceRetriesLogErrors(t *testing.T) {
	fl := &fakeLog{failSTH: 2}
	src := New(newLogEnv(t, fl), "certsquat-test", testLogger())
	src.pollEvery = 10 * time.Millisecond
	src.retryAfter = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx) }()

	waitFor(t, func() bool { return fl.sthSuccess.Load() > 0 })
	fl.append(x509Leaf(t, selfSignedDER(t, "retry.example.com")))

	select {
	case got := <-src.Domains():
		if got != "retry.example.com" {
			t.Errorf("domain = %q, want %q", got, "retry.example.com")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for domain after retries")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSourceListErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		url     string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, "{nope")
			},
		},
		{
			name: "no usable logs",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"operators":[]}`)
			},
		},
		{
			name: "unreachable host",
			url:  "http://127.0.0.1:1/list.json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := tt.url
			if url == "" {
				srv := httptest.NewServer(tt.handler)
				t.Cleanup(srv.Close)
				url = srv.URL
			}
			src := New(url, "certsquat-test", testLogger())
			err := src.Run(context.Background())
			if !errors.Is(err, ErrLogList) {
				t.Errorf("Run() = %v, want ErrLogList", err)
			}
		})
	}
}
