package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconcile/internal/audit"
	"reconcile/internal/contact/models"
	"reconcile/internal/contact/service"
	"reconcile/internal/contact/store"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/testutil"
)

type stubService struct {
	identity *models.ConsolidatedIdentity
	err      error
	phone    *string
	email    *string
}

func (s *stubService) Identify(_ context.Context, phone, email *string) (*models.ConsolidatedIdentity, error) {
	s.phone, s.email = phone, email
	return s.identity, s.err
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestHandleIdentify(t *testing.T) {
	testutil.Given(t, "an empty in-memory store", func(t *testing.T) {
		mem := store.NewInMemoryStore()
		router := newRouter(service.New(store.NewInMemoryTx(mem)))

		testutil.When(t, "a new pair is posted with a numeric phone", func(t *testing.T) {
			req := testutil.NewRequestWithBody(t, http.MethodPost, "/identify", `{"phoneNumber":123456,"email":"lorraine@hillvalley.edu"}`)
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "a primary is created and returned", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[IdentifyResponse](t, rr)
				assert.Equal(t, []string{"123456"}, resp.Contact.PhoneNumbers)
				assert.Equal(t, []string{"lorraine@hillvalley.edu"}, resp.Contact.Emails)
				assert.Equal(t, []int64{}, resp.Contact.SecondaryContactIDs)
			})
		})

		testutil.When(t, "the same phone is posted with a new email", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/identify", map[string]any{
				"phoneNumber": "123456",
				"email":       "mcfly@hillvalley.edu",
			})
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "a secondary is linked to the first contact", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[IdentifyResponse](t, rr)
				assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, resp.Contact.Emails)
				assert.Len(t, resp.Contact.SecondaryContactIDs, 1)
				assert.Equal(t, 2, mem.Count())
			})
		})
	})
}

func TestHandleIdentifyEncodesEmptyListsAsArrays(t *testing.T) {
	svc := &stubService{identity: &models.ConsolidatedIdentity{PrimaryContactID: 1}}
	rr := testutil.DoRequest(newRouter(svc), testutil.NewRequestWithBody(t, http.MethodPost, "/identify", `{"email":"a@x.com"}`))

	testutil.AssertStatusOK(t, rr)
	assert.JSONEq(t, `{"contact":{"primaryContactId":1,"emails":[],"phoneNumbers":[],"secondaryContactIds":[]}}`, rr.Body.String())
}

func TestHandleIdentifyPassesFieldsThrough(t *testing.T) {
	svc := &stubService{identity: &models.ConsolidatedIdentity{PrimaryContactID: 1}}
	rr := testutil.DoRequest(newRouter(svc), testutil.NewRequestWithBody(t, http.MethodPost, "/identify", `{"phoneNumber":null,"email":"a@x.com"}`))

	testutil.AssertStatusOK(t, rr)
	assert.Nil(t, svc.phone)
	require.NotNil(t, svc.email)
	assert.Equal(t, "a@x.com", *svc.email)
}

func TestHandleIdentifyRejections(t *testing.T) {
	router := newRouter(service.New(store.NewInMemoryTx(store.NewInMemoryStore())))

	cases := []struct {
		name string
		body string
		code string
	}{
		{"both absent", `{}`, "invalid_input"},
		{"both null", `{"phoneNumber":null,"email":null}`, "invalid_input"},
		{"both empty", `{"phoneNumber":"","email":""}`, "invalid_input"},
		{"malformed json", `{"phoneNumber":`, "bad_request"},
		{"empty body", ``, "bad_request"},
		{"fractional phone", `{"phoneNumber":12.5}`, "bad_request"},
		{"boolean phone", `{"phoneNumber":true}`, "bad_request"},
		{"numeric email", `{"email":42}`, "bad_request"},
		{"phone too long", `{"phoneNumber":"1234567890123456"}`, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/identify", tc.body))
			testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, tc.code)
		})
	}
}

func TestHandleIdentifyFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"internal failure hides details", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal_error"},
		{"invariant violation", dErrors.New(dErrors.CodeInvariantViolation, "secondary 3 is not linked to primary 1"), http.StatusInternalServerError, "invariant_violation"},
		{"retries exhausted", dErrors.New(dErrors.CodeUnavailable, "transaction retries exhausted"), http.StatusServiceUnavailable, "unavailable"},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "transaction aborted"), http.StatusGatewayTimeout, "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := testutil.DoRequest(newRouter(&stubService{err: tc.err}), testutil.NewRequestWithBody(t, http.MethodPost, "/identify", `{"email":"a@x.com"}`))

			testutil.AssertStatus(t, rr, tc.status)
			body := testutil.UnmarshalErrorResponse(t, rr)
			assert.Equal(t, tc.code, body["code"])
			assert.NotContains(t, body["error"], "pq:")
			assert.NotContains(t, body["error"], "secondary 3")
		})
	}
}

func TestPhoneNumberUnmarshal(t *testing.T) {
	cases := map[string]*string{
		`"+44 20"`: strPtr("+44 20"),
		`0`:        strPtr("0"),
		`987654`:   strPtr("987654"),
		`null`:     nil,
	}
	for input, want := range cases {
		var p PhoneNumber
		require.NoError(t, p.UnmarshalJSON([]byte(input)), input)
		assert.Equal(t, want, p.Value(), input)
	}
}

func strPtr(s string) *string { return &s }

func TestHandleIdentifyCarriesRequestID(t *testing.T) {
	sink := audit.NewMemorySink()
	router := newRouter(service.New(store.NewInMemoryTx(store.NewInMemoryStore()), service.WithAuditPublisher(audit.NewPublisher(sink))))

	req := testutil.WithRequestID(testutil.NewRequestWithBody(t, http.MethodPost, "/identify", `{"email":"doc@hillvalley.edu"}`), "req-42")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatusOK(t, rr)
	events := sink.List()
	require.Len(t, events, 1)
	assert.Equal(t, "req-42", events[0].RequestID)
}

func TestHandleIdentifyOrdersByCommitNotArrival(t *testing.T) {
	testutil.Given(t, "two requests sharing a phone that commit out of arrival order", func(t *testing.T) {
		mem := store.NewInMemoryStore()
		router := newRouter(service.New(store.NewInMemoryTx(mem)))
		arrivedFirst := time.Now().Add(-time.Second)
		arrivedSecond := time.Now()

		late := testutil.NewRequestWithBody(t, http.MethodPost, "/identify", `{"phoneNumber":"123","email":"a@x.com"}`)
		early := testutil.NewRequestWithBody(t, http.MethodPost, "/identify", `{"phoneNumber":"123","email":"b@x.com"}`)

		testutil.When(t, "the later arrival commits before the earlier one", func(t *testing.T) {
			testutil.AssertStatusOK(t, testutil.DoRequest(router, testutil.WithRequestTime(late, arrivedSecond)))
			testutil.AssertStatusOK(t, testutil.DoRequest(router, testutil.WithRequestTime(early, arrivedFirst)))

			testutil.Then(t, "the primary is still the oldest contact of its cluster", func(t *testing.T) {
				contacts := mem.All()
				require.Len(t, contacts, 2)
				assert.True(t, contacts[0].IsPrimary())
				assert.Equal(t, "a@x.com", *contacts[0].Email)
				assert.Equal(t, contacts[0].ID, *contacts[1].LinkedID)
				assert.False(t, contacts[1].CreatedAt.Before(contacts[0].CreatedAt))
			})
		})
	})
}
