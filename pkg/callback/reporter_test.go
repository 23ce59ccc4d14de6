package callback

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/honeypot/pkg/classifier"
	"github.com/harun/honeypot/pkg/dispatch"
	"github.com/harun/honeypot/pkg/honeypot"
	"github.com/harun/honeypot/pkg/indicator"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport() honeypot.Report {
	return honeypot.Report{
		SessionKey:    "conv-1",
		ScamType:      classifier.Vishing,
		Confidence:    0.8,
		Matched:       []string{"call", "kyc"},
		TotalMessages: 4,
		Indicators:    indicator.Extract("pay alice@ybl or call 9876543210"),
		ReplyRule:     "vishing",
	}
}

func newTestReporter(url, secret string) *Reporter {
	return NewReporter(Config{
		URL:         url,
		Secret:      secret,
		Timeout:     time.Second,
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
	}, zerolog.Nop())
}

func TestPayloadFromReport(t *testing.T) {
	p := PayloadFromReport(testReport())

	assert.Equal(t, "conv-1", p.SessionID)
	assert.True(t, p.ScamDetected)
	assert.Equal(t, "Vishing", p.ScamType)
	assert.Equal(t, 4, p.TotalMessagesExchanged)
	assert.Equal(t, []string{"alice@ybl"}, p.ExtractedIntelligence.UPIIDs)
	assert.Contains(t, p.AgentNotes, "cues: call, kyc")
	assert.Contains(t, p.AgentNotes, "3 indicators collected")

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sessionId":"conv-1"`)
	assert.Contains(t, string(raw), `"extractedIntelligence":{"upi_ids":["alice@ybl"]`)
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"sessionId":"conv-1"}`)

	sig := Sign(body, "secret")
	assert.Contains(t, sig, "sha256=")
	assert.True(t, Verify(body, sig, "secret"))
	assert.False(t, Verify(body, sig, "other"))
	assert.False(t, Verify([]byte("tampered"), sig, "secret"))
	assert.False(t, Verify(body, "", "secret"))
}

func TestReporter_Deliver(t *testing.T) {
	var got Payload
	var headers http.Header
	var raw []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		raw, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestReporter(srv.URL, "s3cret").Deliver(context.Background(), PayloadFromReport(testReport()))
	require.NoError(t, err)

	assert.Equal(t, "conv-1", got.SessionID)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.NotEmpty(t, headers.Get(DeliveryIDHeader))
	assert.True(t, Verify(raw, headers.Get(SignatureHeader), "s3cret"))
}

func TestReporter_NoSecretNoSignature(t *testing.T) {
	var sig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	require.NoError(t, newTestReporter(srv.URL, "").Deliver(context.Background(), PayloadFromReport(testReport())))
	assert.Equal(t, "", sig.Load())
}

func TestReporter_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	ids := make(map[string]bool)
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids[r.Header.Get(DeliveryIDHeader)] = true
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestReporter(srv.URL, "").Deliver(context.Background(), PayloadFromReport(testReport()))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, ids, 1, "delivery id must be stable across retries")
}

func TestReporter_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		permanent bool
	}{
		{"bad request is permanent", http.StatusBadRequest, 1, true},
		{"unauthorized is permanent", http.StatusUnauthorized, 1, true},
		{"too many requests is retried", http.StatusTooManyRequests, 4, false},
		{"server error is retried", http.StatusInternalServerError, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newTestReporter(srv.URL, "").Deliver(context.Background(), PayloadFromReport(testReport()))
			require.Error(t, err)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.permanent {
				assert.ErrorIs(t, err, ErrPermanent)
			} else {
				assert.NotErrorIs(t, err, ErrPermanent)
			}
		})
	}
}

func TestReporter_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newTestReporter(url, "").Deliver(context.Background(), PayloadFromReport(testReport()))
	assert.Error(t, err)
}

type fakeDeliverer struct {
	mu       sync.Mutex
	payloads []Payload
	err      error
	done     chan struct{}
}

func (f *fakeDeliverer) Deliver(_ context.Context, p Payload) error {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	f.done <- struct{}{}
	return f.err
}

func TestNotifier_QueuesDelivery(t *testing.T) {
	d := dispatch.New(zerolog.Nop(), dispatch.LaneConfig{Name: Lane, Workers: 1, Backlog: 4})
	defer d.Close(time.Second)

	fd := &fakeDeliverer{done: make(chan struct{}, 4)}
	n := NewNotifier(d, fd, zerolog.Nop())

	n.Notify(context.Background(), testReport())
	<-fd.done

	fd.mu.Lock()
	defer fd.mu.Unlock()
	require.Len(t, fd.payloads, 1)
	assert.Equal(t, "conv-1", fd.payloads[0].SessionID)
}

func TestNotifier_SkipsUnchangedIntelligence(t *testing.T) {
	d := dispatch.New(zerolog.Nop(), dispatch.LaneConfig{Name: Lane, Workers: 1, Backlog: 4})
	defer d.Close(time.Second)

	fd := &fakeDeliverer{done: make(chan struct{}, 4)}
	n := NewNotifier(d, fd, zerolog.Nop())

	n.Notify(context.Background(), testReport())
	<-fd.done
	n.Notify(context.Background(), testReport())

	grown := testReport()
	grown.Indicators = grown.Indicators.Merge(indicator.Extract("https://evil.example"))
	n.Notify(context.Background(), grown)
	<-fd.done

	fd.mu.Lock()
	defer fd.mu.Unlock()
	require.Len(t, fd.payloads, 2)
	assert.Equal(t, []string{"https://evil.example"}, fd.payloads[1].ExtractedIntelligence.PhishingLinks)
}

func TestNotifier_ClosedDispatcherDoesNotPanic(t *testing.T) {
	d := dispatch.New(zerolog.Nop())
	d.Close(time.Second)

	fd := &fakeDeliverer{done: make(chan struct{}, 1)}
	n := NewNotifier(d, fd, zerolog.Nop())

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), testReport())
	})
	assert.Empty(t, fd.payloads)
}
