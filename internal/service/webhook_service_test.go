package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/internal/core/ports/mocks"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/ssrf"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type webhookFixture struct {
	svc          *WebhookServiceImpl
	subRepo      *mocks.MockSubscriptionRepository
	deliveryRepo *mocks.MockDeliveryLogRepository
	encSvc       *mocks.MockEncryptionService
	secrets      *mocks.MockSecretGenerator
}

func setupWebhookService(t *testing.T, guard URLChecker) *webhookFixture {
	ctrl := gomock.NewController(t)
	f := &webhookFixture{
		subRepo:      mocks.NewMockSubscriptionRepository(ctrl),
		deliveryRepo: mocks.NewMockDeliveryLogRepository(ctrl),
		encSvc:       mocks.NewMockEncryptionService(ctrl),
		secrets:      mocks.NewMockSecretGenerator(ctrl),
	}
	if guard == nil {
		guard = ssrf.New()
	}
	f.svc = NewWebhookService(f.subRepo, f.deliveryRepo, f.encSvc, f.secrets, guard, WebhookServiceConfig{}, zerolog.Nop())
	return f
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

type staticResolver map[string][]net.IPAddr

func (r staticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if addrs, ok := r[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func TestWebhookService_Create_Success(t *testing.T) {
	f := setupWebhookService(t, nil)
	ctx := context.Background()
	partnerID := uuid.New()

	f.secrets.EXPECT().GenerateWebhookSecret().Return("whsec_abc", nil)
	f.encSvc.EXPECT().Encrypt("whsec_abc").Return("enc(whsec_abc)", nil)

	var stored *domain.WebhookSubscription
	f.subRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, sub *domain.WebhookSubscription) error {
		stored = sub
		return nil
	})

	res, err := f.svc.Create(ctx, ports.CreateSubscriptionRequest{
		PartnerID: partnerID,
		URL:       "https://api.partner.com/hook",
		Events:    []string{"policy.created", "claim.filed", "policy.created"},
		Headers:   map[string]string{"authorization": "Bearer t"},
	})
	require.NoError(t, err)

	assert.Equal(t, "whsec_abc", res.Secret)
	assert.Equal(t, partnerID, res.Subscription.PartnerID)
	assert.True(t, res.Subscription.IsActive, "active by default")
	assert.Equal(t, []domain.EventType{domain.EventPolicyCreated, domain.EventClaimFiled}, res.Subscription.Events)
	assert.Equal(t, map[string]string{"Authorization": "Bearer t"}, res.Subscription.Headers)
	assert.Zero(t, res.Subscription.FailureCount)

	require.NotNil(t, stored)
	assert.Equal(t, "enc(whsec_abc)", stored.SecretEnc, "only the encrypted secret is persisted")
}

func TestWebhookService_Create_InactiveFlagHonoured(t *testing.T) {
	f := setupWebhookService(t, nil)
	inactive := false

	f.secrets.EXPECT().GenerateWebhookSecret().Return("whsec_abc", nil)
	f.encSvc.EXPECT().Encrypt(gomock.Any()).Return("enc", nil)
	f.subRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	res, err := f.svc.Create(context.Background(), ports.CreateSubscriptionRequest{
		PartnerID: uuid.New(),
		URL:       "https://api.partner.com/hook",
		Events:    []string{"policy.created"},
		IsActive:  &inactive,
	})
	require.NoError(t, err)
	assert.False(t, res.Subscription.IsActive)
}

func TestWebhookService_Create_RejectsPrivateTargets(t *testing.T) {
	urls := []string{
		"http://localhost:3000/hook",
		"http://127.0.0.1/hook",
		"https://10.1.2.3/hook",
		"https://172.16.0.1/hook",
		"https://172.31.255.255/hook",
		"https://192.168.1.10/hook",
		"https://169.254.169.254/latest/meta-data",
		"https://printer.local/hook",
		"https://billing.internal/hook",
		"https://[::1]/hook",
		"https://0.0.0.0/hook",
	}
	for _, raw := range urls {
		t.Run(raw, func(t *testing.T) {
			f := setupWebhookService(t, nil)
			_, err := f.svc.Create(context.Background(), ports.CreateSubscriptionRequest{
				PartnerID: uuid.New(),
				URL:       raw,
				Events:    []string{"policy.created"},
			})
			assert.Equal(t, "WH_003", appCode(t, err))
			assert.Contains(t, err.Error(), "cannot target private or internal addresses")
		})
	}
}

func TestWebhookService_Create_URLValidation(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		guard URLChecker
		code  string
	}{
		{"empty", "", nil, "WH_001"},
		{"relative", "/hook", nil, "WH_001"},
		{"ftp scheme", "ftp://files.example.com/hook", nil, "WH_001"},
		{"too long", "https://api.example.com/" + strings.Repeat("a", 2100), nil, "WH_002"},
		{"http in production", "http://api.example.com/hook", ssrf.New(ssrf.RequireHTTPS(true)), "WH_004"},
		{
			"public name resolving to private ip", "https://rebind.example.com/hook",
			ssrf.New(ssrf.WithResolver(staticResolver{"rebind.example.com": {{IP: net.ParseIP("10.0.0.5")}}})),
			"WH_003",
		},
		{"unresolvable host", "https://nowhere.example.com/hook", ssrf.New(ssrf.WithResolver(staticResolver{})), "WH_003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupWebhookService(t, tt.guard)
			_, err := f.svc.Create(context.Background(), ports.CreateSubscriptionRequest{
				PartnerID: uuid.New(),
				URL:       tt.url,
				Events:    []string{"policy.created"},
			})
			assert.Equal(t, tt.code, appCode(t, err))
		})
	}
}

func TestWebhookService_Create_EventValidation(t *testing.T) {
	f := setupWebhookService(t, nil)
	req := ports.CreateSubscriptionRequest{PartnerID: uuid.New(), URL: "https://api.example.com/hook"}

	req.Events = []string{}
	_, err := f.svc.Create(context.Background(), req)
	assert.Equal(t, "WH_005", appCode(t, err))
	assert.Contains(t, err.Error(), "At least one event type is required")

	req.Events = []string{"policy.created", "not.a.real.event"}
	_, err = f.svc.Create(context.Background(), req)
	assert.Equal(t, "WH_006", appCode(t, err))

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"not.a.real.event"}, appErr.InvalidEvents)
	assert.Equal(t, domain.EventTypeNames(), appErr.ValidEvents)

	req.Events = []string{"Policy.Created"}
	_, err = f.svc.Create(context.Background(), req)
	assert.Equal(t, "WH_006", appCode(t, err), "tags are case-sensitive")
}

func TestWebhookService_Create_RejectsReservedHeaders(t *testing.T) {
	f := setupWebhookService(t, nil)
	_, err := f.svc.Create(context.Background(), ports.CreateSubscriptionRequest{
		PartnerID: uuid.New(),
		URL:       "https://api.example.com/hook",
		Events:    []string{"policy.created"},
		Headers:   map[string]string{"X-Webhook-Signature": "sha256=forged"},
	})
	assert.Equal(t, "WH_007", appCode(t, err))
}

func TestWebhookService_Create_EncryptionFailure(t *testing.T) {
	f := setupWebhookService(t, nil)
	f.secrets.EXPECT().GenerateWebhookSecret().Return("whsec_abc", nil)
	f.encSvc.EXPECT().Encrypt(gomock.Any()).Return("", errors.New("bad key"))

	_, err := f.svc.Create(context.Background(), ports.CreateSubscriptionRequest{
		PartnerID: uuid.New(),
		URL:       "https://api.example.com/hook",
		Events:    []string{"policy.created"},
	})
	assert.Equal(t, "SYS_003", appCode(t, err))
}

func TestWebhookService_Create_RepositoryError(t *testing.T) {
	f := setupWebhookService(t, nil)
	f.secrets.EXPECT().GenerateWebhookSecret().Return("whsec_abc", nil)
	f.encSvc.EXPECT().Encrypt(gomock.Any()).Return("enc", nil)
	f.subRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	_, err := f.svc.Create(context.Background(), ports.CreateSubscriptionRequest{
		PartnerID: uuid.New(),
		URL:       "https://api.example.com/hook",
		Events:    []string{"policy.created"},
	})
	assert.Equal(t, "SYS_001", appCode(t, err))
	assert.ErrorContains(t, err, "connection refused")
}

func TestWebhookService_List(t *testing.T) {
	f := setupWebhookService(t, nil)
	partnerID := uuid.New()

	f.subRepo.EXPECT().ListByPartner(gomock.Any(), partnerID).Return(nil, nil)
	subs, err := f.svc.List(context.Background(), partnerID)
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)

	rows := []domain.WebhookSubscription{{ID: uuid.New(), PartnerID: partnerID}, {ID: uuid.New(), PartnerID: partnerID}}
	f.subRepo.EXPECT().ListByPartner(gomock.Any(), partnerID).Return(rows, nil)
	subs, err = f.svc.List(context.Background(), partnerID)
	require.NoError(t, err)
	assert.Equal(t, rows, subs)
}

func TestWebhookService_Get_WithRecentDeliveries(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, partnerID := uuid.New(), uuid.New()
	sub := &domain.WebhookSubscription{ID: id, PartnerID: partnerID, SecretEnc: "enc"}
	logs := []domain.DeliveryLogEntry{{ID: uuid.New(), SubscriptionID: id, Attempt: 1}}

	f.subRepo.EXPECT().GetByID(gomock.Any(), id, partnerID).Return(sub, nil)
	f.deliveryRepo.EXPECT().ListRecent(gomock.Any(), id, domain.RecentDeliveryLimit).Return(logs, nil)

	detail, err := f.svc.Get(context.Background(), id, partnerID)
	require.NoError(t, err)
	assert.Equal(t, *sub, detail.Subscription)
	assert.Equal(t, logs, detail.RecentDeliveries)
}

func TestWebhookService_Get_OtherPartnerIsNotFound(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, intruder := uuid.New(), uuid.New()

	f.subRepo.EXPECT().GetByID(gomock.Any(), id, intruder).Return(nil, nil)

	_, err := f.svc.Get(context.Background(), id, intruder)
	assert.Equal(t, "RES_001", appCode(t, err))
}

func TestWebhookService_Update_URLChangeResetsFailures(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, partnerID := uuid.New(), uuid.New()
	newURL := "https://new.partner.com/hook"

	f.subRepo.EXPECT().Update(gomock.Any(), id, partnerID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ uuid.UUID, patch ports.SubscriptionPatch) (*domain.WebhookSubscription, error) {
			assert.Equal(t, &newURL, patch.URL)
			assert.True(t, patch.ResetFailures)
			assert.Nil(t, patch.SecretEnc)
			assert.False(t, patch.UpdatedAt.IsZero())
			return &domain.WebhookSubscription{ID: id, PartnerID: partnerID, URL: newURL}, nil
		})

	res, err := f.svc.Update(context.Background(), ports.UpdateSubscriptionRequest{ID: id, PartnerID: partnerID, URL: &newURL})
	require.NoError(t, err)
	assert.Empty(t, res.Secret)
	assert.Equal(t, newURL, res.Subscription.URL)
}

func TestWebhookService_Update_EventsChangeResetsFailures(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, partnerID := uuid.New(), uuid.New()
	events := []string{"claim.updated"}

	f.subRepo.EXPECT().Update(gomock.Any(), id, partnerID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ uuid.UUID, patch ports.SubscriptionPatch) (*domain.WebhookSubscription, error) {
			assert.Equal(t, []domain.EventType{domain.EventClaimUpdated}, patch.Events)
			assert.True(t, patch.ResetFailures)
			return &domain.WebhookSubscription{ID: id}, nil
		})

	_, err := f.svc.Update(context.Background(), ports.UpdateSubscriptionRequest{ID: id, PartnerID: partnerID, Events: &events})
	require.NoError(t, err)
}

func TestWebhookService_Update_ActiveToggleKeepsFailures(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, partnerID := uuid.New(), uuid.New()
	active := false

	f.subRepo.EXPECT().Update(gomock.Any(), id, partnerID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ uuid.UUID, patch ports.SubscriptionPatch) (*domain.WebhookSubscription, error) {
			assert.False(t, patch.ResetFailures)
			assert.Equal(t, &active, patch.IsActive)
			assert.Nil(t, patch.URL)
			assert.Nil(t, patch.Events)
			return &domain.WebhookSubscription{ID: id, FailureCount: 3}, nil
		})

	res, err := f.svc.Update(context.Background(), ports.UpdateSubscriptionRequest{ID: id, PartnerID: partnerID, IsActive: &active})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Subscription.FailureCount)
}

func TestWebhookService_Update_RegenerateSecret(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, partnerID := uuid.New(), uuid.New()

	f.secrets.EXPECT().GenerateWebhookSecret().Return("whsec_new", nil)
	f.encSvc.EXPECT().Encrypt("whsec_new").Return("enc(new)", nil)
	f.subRepo.EXPECT().Update(gomock.Any(), id, partnerID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ uuid.UUID, patch ports.SubscriptionPatch) (*domain.WebhookSubscription, error) {
			require.NotNil(t, patch.SecretEnc)
			assert.Equal(t, "enc(new)", *patch.SecretEnc)
			assert.False(t, patch.ResetFailures)
			return &domain.WebhookSubscription{ID: id, SecretEnc: *patch.SecretEnc}, nil
		})

	res, err := f.svc.Update(context.Background(), ports.UpdateSubscriptionRequest{ID: id, PartnerID: partnerID, RegenerateSecret: true})
	require.NoError(t, err)
	assert.Equal(t, "whsec_new", res.Secret)
}

func TestWebhookService_Update_ClearsLocationAndHeaders(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, partnerID := uuid.New(), uuid.New()

	f.subRepo.EXPECT().Update(gomock.Any(), id, partnerID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ uuid.UUID, patch ports.SubscriptionPatch) (*domain.WebhookSubscription, error) {
			assert.True(t, patch.LocationIDSet)
			assert.Nil(t, patch.LocationID)
			assert.True(t, patch.HeadersSet)
			assert.Nil(t, patch.Headers)
			return &domain.WebhookSubscription{ID: id}, nil
		})

	_, err := f.svc.Update(context.Background(), ports.UpdateSubscriptionRequest{
		ID: id, PartnerID: partnerID, LocationIDSet: true, HeadersSet: true,
	})
	require.NoError(t, err)
}

func TestWebhookService_Update_ValidatesOnlyPresentFields(t *testing.T) {
	f := setupWebhookService(t, nil)
	bad := "http://192.168.0.10/hook"
	empty := []string{}

	_, err := f.svc.Update(context.Background(), ports.UpdateSubscriptionRequest{ID: uuid.New(), PartnerID: uuid.New(), URL: &bad})
	assert.Equal(t, "WH_003", appCode(t, err))

	_, err = f.svc.Update(context.Background(), ports.UpdateSubscriptionRequest{ID: uuid.New(), PartnerID: uuid.New(), Events: &empty})
	assert.Equal(t, "WH_005", appCode(t, err))
}

func TestWebhookService_Update_NotOwned(t *testing.T) {
	f := setupWebhookService(t, nil)
	active := true
	f.subRepo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)

	_, err := f.svc.Update(context.Background(), ports.UpdateSubscriptionRequest{ID: uuid.New(), PartnerID: uuid.New(), IsActive: &active})
	assert.Equal(t, "RES_001", appCode(t, err))
}

func TestWebhookService_Delete(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, partnerID := uuid.New(), uuid.New()

	f.subRepo.EXPECT().Delete(gomock.Any(), id, partnerID).Return(true, nil)
	require.NoError(t, f.svc.Delete(context.Background(), id, partnerID))

	f.subRepo.EXPECT().Delete(gomock.Any(), id, partnerID).Return(false, nil)
	assert.Equal(t, "RES_001", appCode(t, f.svc.Delete(context.Background(), id, partnerID)))
}

func TestWebhookService_ListDeliveries_ClampsLimit(t *testing.T) {
	f := setupWebhookService(t, nil)
	id, partnerID := uuid.New(), uuid.New()
	sub := &domain.WebhookSubscription{ID: id, PartnerID: partnerID}

	f.subRepo.EXPECT().GetByID(gomock.Any(), id, partnerID).Return(sub, nil).Times(2)
	f.deliveryRepo.EXPECT().ListRecent(gomock.Any(), id, MaxDeliveryPageSize).Return(nil, nil)
	f.deliveryRepo.EXPECT().ListRecent(gomock.Any(), id, domain.RecentDeliveryLimit).Return(nil, nil)

	entries, err := f.svc.ListDeliveries(context.Background(), id, partnerID, 500)
	require.NoError(t, err)
	assert.NotNil(t, entries)

	_, err = f.svc.ListDeliveries(context.Background(), id, partnerID, 0)
	require.NoError(t, err)
}

func TestWebhookService_TimestampsAreUTC(t *testing.T) {
	f := setupWebhookService(t, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	f.secrets.EXPECT().GenerateWebhookSecret().Return("whsec_abc", nil)
	f.encSvc.EXPECT().Encrypt(gomock.Any()).Return("enc", nil)
	f.subRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	res, err := f.svc.Create(context.Background(), ports.CreateSubscriptionRequest{
		PartnerID: uuid.New(),
		URL:       "https://api.example.com/hook",
		Events:    []string{"commission.paid"},
	})
	require.NoError(t, err)
	assert.Equal(t, fixed, res.Subscription.CreatedAt)
	assert.Equal(t, fixed, res.Subscription.UpdatedAt)
}
