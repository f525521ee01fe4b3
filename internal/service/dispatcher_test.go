package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports/mocks"
	"partner-webhooks/internal/metrics"
	"partner-webhooks/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// inlineSubmitter runs tasks on the caller's goroutine.
type inlineSubmitter struct {
	mu      sync.Mutex
	err     error
	names   []string
	results []error
}

func (s *inlineSubmitter) Submit(name string, fn worker.TaskFunc) error {
	s.mu.Lock()
	err := s.err
	if err == nil {
		s.names = append(s.names, name)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	res := fn(context.Background())
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
	return nil
}

type clientFunc func(*http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

type capturedRequest struct {
	header http.Header
	body   []byte
}

type dispatcherFixture struct {
	d            *Dispatcher
	subRepo      *mocks.MockSubscriptionRepository
	deliveryRepo *mocks.MockDeliveryLogRepository
	encSvc       *mocks.MockEncryptionService
	deduper      *mocks.MockEventDeduper
	submitter    *inlineSubmitter
	delays       []time.Duration

	mu      sync.Mutex
	entries []domain.DeliveryLogEntry
}

func setupDispatcher(t *testing.T, client HTTPClient, cfg DispatcherConfig) *dispatcherFixture {
	ctrl := gomock.NewController(t)
	f := &dispatcherFixture{
		subRepo:      mocks.NewMockSubscriptionRepository(ctrl),
		deliveryRepo: mocks.NewMockDeliveryLogRepository(ctrl),
		encSvc:       mocks.NewMockEncryptionService(ctrl),
		deduper:      mocks.NewMockEventDeduper(ctrl),
		submitter:    &inlineSubmitter{},
	}
	f.d = NewDispatcher(f.subRepo, f.deliveryRepo, f.encSvc, NewHMACSignatureService(), client, f.submitter, f.deduper, cfg, zerolog.Nop())
	f.d.schedule = func(d time.Duration, fn func()) {
		f.mu.Lock()
		f.delays = append(f.delays, d)
		f.mu.Unlock()
		fn()
	}

	f.deduper.EXPECT().FirstSeen(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	f.deliveryRepo.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e *domain.DeliveryLogEntry) error {
			f.mu.Lock()
			f.entries = append(f.entries, *e)
			f.mu.Unlock()
			return nil
		}).AnyTimes()
	return f
}

// receiver starts a server answering with statuses in order (the last one repeats).
func receiver(t *testing.T, statuses ...int) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{header: r.Header.Clone(), body: body})
		n := len(reqs)
		mu.Unlock()

		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ack"))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func testEvent(partnerID uuid.UUID) domain.Event {
	return domain.Event{
		ID:        uuid.New(),
		Type:      domain.EventPolicyCreated,
		PartnerID: partnerID,
		CreatedAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		Data:      json.RawMessage(`{"policy_id":"P-1"}`),
	}
}

func testSubscription(partnerID uuid.UUID, url string) domain.WebhookSubscription {
	return domain.WebhookSubscription{
		ID:        uuid.New(),
		PartnerID: partnerID,
		URL:       url,
		SecretEnc: "enc1",
		Events:    []domain.EventType{domain.EventPolicyCreated},
		IsActive:  true,
	}
}

func TestDispatcher_Dispatch_SignedDelivery(t *testing.T) {
	srv, reqs := receiver(t, http.StatusOK)
	f := setupDispatcher(t, srv.Client(), DispatcherConfig{})
	partnerID := uuid.New()
	event := testEvent(partnerID)
	sub := testSubscription(partnerID, srv.URL+"/hook")
	sub.Headers = map[string]string{
		"Authorization":       "Bearer partner-token",
		"X-Webhook-Signature": "sha256=forged",
	}

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), partnerID, domain.EventPolicyCreated, (*uuid.UUID)(nil)).
		Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt("enc1").Return("whsec_one", nil)
	f.subRepo.EXPECT().RecordSuccess(gomock.Any(), sub.ID, gomock.Any()).Return(nil)

	require.NoError(t, f.d.Dispatch(context.Background(), event))

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, defaultUserAgent, got.header.Get("User-Agent"))
	assert.Equal(t, "Bearer partner-token", got.header.Get("Authorization"))
	assert.Equal(t, event.ID.String(), got.header.Get(HeaderEventID))
	assert.Equal(t, "policy.created", got.header.Get(HeaderEventType))
	assert.Equal(t, SignatureVersion, got.header.Get(HeaderSignatureVersion))
	assert.NotEmpty(t, got.header.Get(HeaderTimestamp))
	assert.True(t, VerifySignature("whsec_one", got.body, got.header.Get(HeaderSignature)), "custom header must not replace the signature")

	var envelope domain.Event
	require.NoError(t, json.Unmarshal(got.body, &envelope))
	assert.Equal(t, event.ID, envelope.ID)
	assert.Equal(t, partnerID, envelope.PartnerID)
	assert.JSONEq(t, `{"policy_id":"P-1"}`, string(envelope.Data))

	require.Len(t, f.entries, 1)
	entry := f.entries[0]
	assert.True(t, entry.Success)
	assert.Equal(t, 1, entry.Attempt)
	require.NotNil(t, entry.StatusCode)
	assert.Equal(t, http.StatusOK, *entry.StatusCode)
	assert.Nil(t, entry.ErrorMessage)
	assert.Equal(t, event.ID, entry.EventID)
}

func TestDispatcher_Dispatch_RetriesThenSucceeds(t *testing.T) {
	srv, reqs := receiver(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusNoContent)
	f := setupDispatcher(t, srv.Client(), DispatcherConfig{DisableAfterFailures: 10})
	partnerID := uuid.New()
	sub := testSubscription(partnerID, srv.URL)

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), partnerID, gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt("enc1").Return("whsec_one", nil).Times(3)
	f.subRepo.EXPECT().GetByID(gomock.Any(), sub.ID, partnerID).DoAndReturn(
		func(context.Context, uuid.UUID, uuid.UUID) (*domain.WebhookSubscription, error) {
			fresh := sub
			return &fresh, nil
		}).Times(2)
	gomock.InOrder(
		f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 10).Return(nil),
		f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 10).Return(nil),
		f.subRepo.EXPECT().RecordSuccess(gomock.Any(), sub.ID, gomock.Any()).Return(nil),
	)

	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)))

	assert.Len(t, *reqs, 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.delays)
	require.Len(t, f.entries, 3)
	for i, e := range f.entries {
		assert.Equal(t, i+1, e.Attempt, "entries are appended in attempt order")
	}
	assert.False(t, f.entries[0].Success)
	assert.Equal(t, "unexpected status 503", *f.entries[0].ErrorMessage)
	assert.True(t, f.entries[2].Success)
}

func TestDispatcher_Dispatch_NonRetryableStatus(t *testing.T) {
	srv, reqs := receiver(t, http.StatusBadRequest)
	f := setupDispatcher(t, srv.Client(), DispatcherConfig{})
	partnerID := uuid.New()
	sub := testSubscription(partnerID, srv.URL)

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil)
	f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 0).Return(nil)

	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)), "delivery failures never surface")
	assert.Len(t, *reqs, 1)
	assert.Empty(t, f.delays)
}

func TestDispatcher_Dispatch_ExhaustsAttempts(t *testing.T) {
	srv, reqs := receiver(t, http.StatusInternalServerError)
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 3}
	f := setupDispatcher(t, srv.Client(), DispatcherConfig{Retry: policy})
	partnerID := uuid.New()
	sub := testSubscription(partnerID, srv.URL)

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil).Times(3)
	f.subRepo.EXPECT().GetByID(gomock.Any(), sub.ID, partnerID).Return(&sub, nil).Times(2)
	f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 0).Return(nil).Times(3)

	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)))
	assert.Len(t, *reqs, 3)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, f.delays)
	require.Len(t, f.submitter.names, 2, "each retry is queued as its own task")
	assert.True(t, strings.HasPrefix(f.submitter.names[0], "retry:"))
	assert.True(t, strings.HasSuffix(f.submitter.names[1], ":3"))
}

func TestDispatcher_Dispatch_RetryRejectedByQueue(t *testing.T) {
	srv, reqs := receiver(t, http.StatusServiceUnavailable)
	f := setupDispatcher(t, srv.Client(), DispatcherConfig{})
	partnerID := uuid.New()
	sub := testSubscription(partnerID, srv.URL)
	f.submitter.err = worker.ErrPoolClosed

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil)
	f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 0).Return(nil)

	before := testutil.ToFloat64(metrics.DispatchQueueRejections)
	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)))

	assert.Len(t, *reqs, 1)
	assert.Len(t, f.delays, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DispatchQueueRejections))
}

func TestDispatcher_Dispatch_StopsWhenSubscriptionChanges(t *testing.T) {
	tests := []struct {
		name   string
		reload func(domain.WebhookSubscription) *domain.WebhookSubscription
	}{
		{"deleted", func(domain.WebhookSubscription) *domain.WebhookSubscription { return nil }},
		{"deactivated", func(s domain.WebhookSubscription) *domain.WebhookSubscription { s.IsActive = false; return &s }},
		{"re-pointed", func(s domain.WebhookSubscription) *domain.WebhookSubscription { s.URL = "https://other.example.com"; return &s }},
		{"unsubscribed", func(s domain.WebhookSubscription) *domain.WebhookSubscription {
			s.Events = []domain.EventType{domain.EventClaimFiled}
			return &s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reqs := receiver(t, http.StatusBadGateway)
			f := setupDispatcher(t, srv.Client(), DispatcherConfig{})
			partnerID := uuid.New()
			sub := testSubscription(partnerID, srv.URL)

			f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
			f.encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil)
			f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 0).Return(nil)
			f.subRepo.EXPECT().GetByID(gomock.Any(), sub.ID, partnerID).Return(tt.reload(sub), nil)

			require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)))
			assert.Len(t, *reqs, 1)
		})
	}
}

func TestDispatcher_Dispatch_RetryUsesRotatedSecret(t *testing.T) {
	srv, reqs := receiver(t, http.StatusInternalServerError, http.StatusOK)
	f := setupDispatcher(t, srv.Client(), DispatcherConfig{})
	partnerID := uuid.New()
	sub := testSubscription(partnerID, srv.URL)
	rotated := sub
	rotated.SecretEnc = "enc2"

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt("enc1").Return("whsec_old", nil)
	f.encSvc.EXPECT().Decrypt("enc2").Return("whsec_new", nil)
	f.subRepo.EXPECT().GetByID(gomock.Any(), sub.ID, partnerID).Return(&rotated, nil)
	f.subRepo.EXPECT().RecordFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	f.subRepo.EXPECT().RecordSuccess(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)))

	require.Len(t, *reqs, 2)
	second := (*reqs)[1]
	sig := second.header.Get(HeaderSignature)
	assert.True(t, VerifySignature("whsec_new", second.body, sig))
	assert.False(t, VerifySignature("whsec_old", second.body, sig), "no grace period for the old secret")
}

func TestDispatcher_Dispatch_TransportError(t *testing.T) {
	var calls atomic.Int32
	client := clientFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("dial tcp: connection refused")
	})
	f := setupDispatcher(t, client, DispatcherConfig{Retry: RetryPolicy{MaxAttempts: 1}})
	partnerID := uuid.New()
	sub := testSubscription(partnerID, "https://hooks.example.com")
	event := testEvent(partnerID)

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil)
	f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 0).Return(nil)

	before := testutil.ToFloat64(metrics.WebhookDeliveries.WithLabelValues(string(event.Type), metrics.StatusError))
	require.NoError(t, f.d.Dispatch(context.Background(), event))

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, f.entries, 1)
	assert.Nil(t, f.entries[0].StatusCode)
	require.NotNil(t, f.entries[0].ErrorMessage)
	assert.Contains(t, *f.entries[0].ErrorMessage, "connection refused")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.WebhookDeliveries.WithLabelValues(string(event.Type), metrics.StatusError)))
}

func TestDispatcher_Dispatch_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := setupDispatcher(t, srv.Client(), DispatcherConfig{Timeout: 50 * time.Millisecond, Retry: RetryPolicy{MaxAttempts: 1}})
	partnerID := uuid.New()
	sub := testSubscription(partnerID, srv.URL)

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil)
	f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 0).Return(nil)

	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)))
	require.Len(t, f.entries, 1)
	assert.False(t, f.entries[0].Success)
	assert.Nil(t, f.entries[0].StatusCode)
}

func TestDispatcher_Dispatch_FansOut(t *testing.T) {
	srv, reqs := receiver(t, http.StatusOK)
	f := setupDispatcher(t, srv.Client(), DispatcherConfig{Fanout: 2})
	partnerID := uuid.New()
	subs := []domain.WebhookSubscription{
		testSubscription(partnerID, srv.URL+"/a"),
		testSubscription(partnerID, srv.URL+"/b"),
		testSubscription(partnerID, srv.URL+"/c"),
	}

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(subs, nil)
	f.encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil).Times(3)
	f.subRepo.EXPECT().RecordSuccess(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)))
	assert.Len(t, *reqs, 3)
	assert.Len(t, f.entries, 3)
}

func TestDispatcher_Dispatch_NoSubscriptions(t *testing.T) {
	f := setupDispatcher(t, clientFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}), DispatcherConfig{})

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(uuid.New())))
}

func TestDispatcher_Dispatch_ResolveErrorIsReported(t *testing.T) {
	f := setupDispatcher(t, nil, DispatcherConfig{})
	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	err := f.d.Dispatch(context.Background(), testEvent(uuid.New()))
	assert.ErrorContains(t, err, "db down")
}

func TestDispatcher_Dispatch_DuplicateEventDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	subRepo := mocks.NewMockSubscriptionRepository(ctrl)
	deduper := mocks.NewMockEventDeduper(ctrl)
	event := testEvent(uuid.New())

	deduper.EXPECT().FirstSeen(gomock.Any(), event.ID.String(), 24*time.Hour).Return(false, nil)

	d := NewDispatcher(subRepo, nil, nil, NewHMACSignatureService(), nil, &inlineSubmitter{}, deduper, DispatcherConfig{}, zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), event))
}

func TestDispatcher_Dispatch_DedupeFailsOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	subRepo := mocks.NewMockSubscriptionRepository(ctrl)
	deduper := mocks.NewMockEventDeduper(ctrl)

	deduper.EXPECT().FirstSeen(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))
	subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)

	d := NewDispatcher(subRepo, nil, nil, NewHMACSignatureService(), nil, &inlineSubmitter{}, deduper, DispatcherConfig{}, zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), testEvent(uuid.New())))
}

func TestDispatcher_Publish_Validation(t *testing.T) {
	f := setupDispatcher(t, nil, DispatcherConfig{})

	bad := testEvent(uuid.New())
	bad.Type = "policy.deleted"
	assert.Equal(t, "WH_006", appCode(t, f.d.Publish(context.Background(), bad)))

	noPartner := testEvent(uuid.Nil)
	assert.Equal(t, "VAL_001", appCode(t, f.d.Publish(context.Background(), noPartner)))
	assert.Empty(t, f.submitter.results)
}

func TestDispatcher_Publish_QueuesAndFillsDefaults(t *testing.T) {
	f := setupDispatcher(t, nil, DispatcherConfig{})
	partnerID := uuid.New()

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), partnerID, domain.EventCommissionPaid, gomock.Any()).Return(nil, nil)

	err := f.d.Publish(context.Background(), domain.Event{Type: domain.EventCommissionPaid, PartnerID: partnerID})
	require.NoError(t, err)
	require.Len(t, f.submitter.results, 1)
	assert.NoError(t, f.submitter.results[0])
}

func TestDispatcher_Publish_QueueFull(t *testing.T) {
	f := setupDispatcher(t, nil, DispatcherConfig{})
	f.submitter.err = worker.ErrQueueFull

	before := testutil.ToFloat64(metrics.DispatchQueueRejections)
	err := f.d.Publish(context.Background(), testEvent(uuid.New()))

	assert.Equal(t, "EVT_001", appCode(t, err))
	assert.ErrorIs(t, err, worker.ErrQueueFull)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DispatchQueueRejections))
}

func TestDispatcher_Publish_WithWorkerPool(t *testing.T) {
	srv, reqs := receiver(t, http.StatusOK)
	ctrl := gomock.NewController(t)
	subRepo := mocks.NewMockSubscriptionRepository(ctrl)
	deliveryRepo := mocks.NewMockDeliveryLogRepository(ctrl)
	encSvc := mocks.NewMockEncryptionService(ctrl)
	partnerID := uuid.New()
	sub := testSubscription(partnerID, srv.URL)

	subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil)
	deliveryRepo.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)
	subRepo.EXPECT().RecordSuccess(gomock.Any(), sub.ID, gomock.Any()).Return(nil)

	pool := worker.New(worker.Config{Workers: 2, QueueSize: 8}, zerolog.Nop(), nil)
	pool.Start()

	d := NewDispatcher(subRepo, deliveryRepo, encSvc, NewHMACSignatureService(), srv.Client(), pool, nil, DispatcherConfig{}, zerolog.Nop())
	require.NoError(t, d.Publish(context.Background(), testEvent(partnerID)))
	require.NoError(t, pool.Stop(context.Background()))

	assert.Len(t, *reqs, 1)
}

func TestDispatcher_SlowEndpointDoesNotBlockOtherPartners(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		slow.Close()
	})
	var delivered atomic.Int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)

	ctrl := gomock.NewController(t)
	subRepo := mocks.NewMockSubscriptionRepository(ctrl)
	deliveryRepo := mocks.NewMockDeliveryLogRepository(ctrl)
	encSvc := mocks.NewMockEncryptionService(ctrl)

	slowPartner, healthyPartner := uuid.New(), uuid.New()
	slowSub := testSubscription(slowPartner, slow.URL)
	healthySub := testSubscription(healthyPartner, healthy.URL)

	subRepo.EXPECT().ListActiveForEvent(gomock.Any(), slowPartner, gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{slowSub}, nil)
	subRepo.EXPECT().ListActiveForEvent(gomock.Any(), healthyPartner, gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{healthySub}, nil)
	encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil).AnyTimes()
	deliveryRepo.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	subRepo.EXPECT().RecordFailure(gomock.Any(), slowSub.ID, gomock.Any(), 0).Return(nil)
	subRepo.EXPECT().RecordSuccess(gomock.Any(), healthySub.ID, gomock.Any()).Return(nil)

	pool := worker.New(worker.Config{Workers: 1, QueueSize: 8}, zerolog.Nop(), nil)
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	cfg := DispatcherConfig{
		Timeout: 100 * time.Millisecond,
		Retry:   RetryPolicy{MaxAttempts: 4, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2},
	}
	d := NewDispatcher(subRepo, deliveryRepo, encSvc, NewHMACSignatureService(), &http.Client{}, pool, nil, cfg, zerolog.Nop())

	require.NoError(t, d.Publish(context.Background(), testEvent(slowPartner)))
	require.NoError(t, d.Publish(context.Background(), testEvent(healthyPartner)))

	assert.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, 5*time.Second, 20*time.Millisecond, "healthy partner is delivered while the slow endpoint waits for its retry")
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "short", truncateMessage("short", 10))
	assert.Equal(t, "abcde", truncateMessage("abcdefgh", 5))

	// "ü" is two bytes; a cut through it backs up to the rune start.
	msg := "Post \"https://bücher.example/hook\": dial tcp: no such host"
	got := truncateMessage(msg, len("Post \"https://b")+1)
	assert.Equal(t, "Post \"https://b", got)
	assert.True(t, utf8.ValidString(got))

	long := strings.Repeat("ü", maxErrorMessageLen)
	got = truncateMessage(long, maxErrorMessageLen)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxErrorMessageLen)
}

func TestDispatcher_Dispatch_TransportErrorWithMultiByteURL(t *testing.T) {
	host := strings.Repeat("ü", 300)
	client := clientFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: lookup " + host + ": no such host")
	})
	f := setupDispatcher(t, client, DispatcherConfig{Retry: RetryPolicy{MaxAttempts: 1}})
	partnerID := uuid.New()
	sub := testSubscription(partnerID, "https://hooks.example.com")

	f.subRepo.EXPECT().ListActiveForEvent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.WebhookSubscription{sub}, nil)
	f.encSvc.EXPECT().Decrypt(gomock.Any()).Return("whsec_one", nil)
	f.subRepo.EXPECT().RecordFailure(gomock.Any(), sub.ID, gomock.Any(), 0).Return(nil)

	require.NoError(t, f.d.Dispatch(context.Background(), testEvent(partnerID)))

	require.Len(t, f.entries, 1)
	require.NotNil(t, f.entries[0].ErrorMessage)
	msg := *f.entries[0].ErrorMessage
	assert.True(t, utf8.ValidString(msg), "error_message stays valid UTF-8")
	assert.LessOrEqual(t, len(msg), maxErrorMessageLen)
}
