package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"reconcile/internal/audit"
	"reconcile/internal/contact/models"
	"reconcile/internal/contact/ports"
	"reconcile/internal/contact/store"
	dErrors "reconcile/pkg/domain-errors"
)

func strPtr(s string) *string { return &s }

func idPtr(id models.ContactID) *models.ContactID { return &id }

// tickingClock hands out strictly increasing timestamps so creation order is
// observable.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now(context.Context) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

var t0 = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

type IdentifySuite struct {
	suite.Suite
	store   *store.InMemoryStore
	sink    *audit.MemorySink
	service *Service
}

func TestIdentifySuite(t *testing.T) {
	suite.Run(t, new(IdentifySuite))
}

func (s *IdentifySuite) SetupTest() {
	clock := &tickingClock{now: t0.Add(time.Hour)}
	s.store = store.NewInMemoryStore(store.WithClock(clock.Now))
	s.sink = audit.NewMemorySink()
	s.service = New(store.NewInMemoryTx(s.store), WithAuditPublisher(audit.NewPublisher(s.sink)))
}

func (s *IdentifySuite) seed(contacts ...*models.Contact) {
	s.store.Seed(contacts...)
}

func primary(id models.ContactID, phone, email *string, offset time.Duration) *models.Contact {
	return &models.Contact{ID: id, PhoneNumber: phone, Email: email, LinkPrecedence: models.LinkPrecedencePrimary, CreatedAt: t0.Add(offset), UpdatedAt: t0.Add(offset)}
}

func secondary(id, linked models.ContactID, phone, email *string, offset time.Duration) *models.Contact {
	return &models.Contact{ID: id, PhoneNumber: phone, Email: email, LinkPrecedence: models.LinkPrecedenceSecondary, LinkedID: idPtr(linked), CreatedAt: t0.Add(offset), UpdatedAt: t0.Add(offset)}
}

func (s *IdentifySuite) actions() []audit.Action {
	var out []audit.Action
	for _, e := range s.sink.List() {
		out = append(out, e.Action)
	}
	return out
}

func (s *IdentifySuite) TestFreshIdentity() {
	identity, err := s.service.Identify(context.Background(), strPtr("999"), strPtr("z@x.com"))
	s.Require().NoError(err)

	s.Equal(1, s.store.Count())
	s.Equal([]string{"z@x.com"}, identity.Emails)
	s.Equal([]string{"999"}, identity.PhoneNumbers)
	s.NotNil(identity.SecondaryContactIDs)
	s.Empty(identity.SecondaryContactIDs)
	s.Equal([]audit.Action{audit.ActionCreatedPrimary}, s.actions())
}

func (s *IdentifySuite) TestFreshIdentityWithOneField() {
	identity, err := s.service.Identify(context.Background(), nil, strPtr("only@x.com"))
	s.Require().NoError(err)

	s.Equal([]string{"only@x.com"}, identity.Emails)
	s.NotNil(identity.PhoneNumbers)
	s.Empty(identity.PhoneNumbers)
}

func (s *IdentifySuite) TestNewSecondary() {
	s.seed(primary(1, strPtr("123"), strPtr("a@x.com"), 0))

	identity, err := s.service.Identify(context.Background(), strPtr("123"), strPtr("new@x.com"))
	s.Require().NoError(err)

	s.Equal(2, s.store.Count())
	s.Equal(models.ContactID(1), identity.PrimaryContactID)
	s.Equal([]string{"a@x.com", "new@x.com"}, identity.Emails)
	s.Equal([]string{"123"}, identity.PhoneNumbers)
	s.Equal([]models.ContactID{2}, identity.SecondaryContactIDs)
	s.Equal([]audit.Action{audit.ActionCreatedSecondary}, s.actions())
}

func (s *IdentifySuite) TestMergeTwoPrimaries() {
	s.seed(
		primary(1, strPtr("123"), nil, 0),
		primary(2, nil, strPtr("b@x.com"), time.Minute),
	)

	identity, err := s.service.Identify(context.Background(), strPtr("123"), strPtr("b@x.com"))
	s.Require().NoError(err)

	s.Equal(2, s.store.Count(), "both facts were known, nothing is created")
	s.Equal(&models.ConsolidatedIdentity{
		PrimaryContactID:    1,
		Emails:              []string{"b@x.com"},
		PhoneNumbers:        []string{"123"},
		SecondaryContactIDs: []models.ContactID{2},
	}, identity)

	all := s.store.All()
	s.Equal(models.LinkPrecedenceSecondary, all[1].LinkPrecedence)
	s.Equal(models.ContactID(1), *all[1].LinkedID)
	s.Equal([]audit.Action{audit.ActionDemoted}, s.actions())
}

func (s *IdentifySuite) TestMergeKeepsOldestDirectPrimaryRegardlessOfArgumentOrder() {
	s.seed(
		primary(1, nil, strPtr("old@x.com"), 0),
		primary(2, strPtr("555"), nil, time.Minute),
	)

	identity, err := s.service.Identify(context.Background(), strPtr("555"), strPtr("old@x.com"))
	s.Require().NoError(err)
	s.Equal(models.ContactID(1), identity.PrimaryContactID)
	s.Equal([]models.ContactID{2}, identity.SecondaryContactIDs)
}

func (s *IdentifySuite) TestMergeRepointsFormerSecondaries() {
	s.seed(
		primary(1, strPtr("123"), nil, 0),
		primary(2, nil, strPtr("b@x.com"), time.Minute),
		secondary(3, 2, strPtr("456"), strPtr("b@x.com"), 2*time.Minute),
	)

	identity, err := s.service.Identify(context.Background(), strPtr("123"), strPtr("b@x.com"))
	s.Require().NoError(err)

	s.Equal([]models.ContactID{2, 3}, identity.SecondaryContactIDs)
	s.Equal([]string{"123", "456"}, identity.PhoneNumbers)
	s.assertFlat()
	s.Equal([]audit.Action{audit.ActionDemoted, audit.ActionRelinked}, s.actions())
}

// An older primary reached only through a matched secondary is still demoted
// under the primary selected from the direct matches.
func (s *IdentifySuite) TestTransitiveOlderPrimaryIsDemoted() {
	s.seed(
		primary(1, strPtr("111"), strPtr("q@x.com"), 0),
		primary(2, strPtr("222"), strPtr("p@x.com"), time.Minute),
		secondary(3, 1, strPtr("111"), strPtr("s@x.com"), 2*time.Minute),
	)

	identity, err := s.service.Identify(context.Background(), strPtr("222"), strPtr("s@x.com"))
	s.Require().NoError(err)

	s.Equal(3, s.store.Count())
	s.Equal(models.ContactID(2), identity.PrimaryContactID)
	s.Equal([]models.ContactID{1, 3}, identity.SecondaryContactIDs)
	s.Equal([]string{"p@x.com", "q@x.com", "s@x.com"}, identity.Emails)
	s.Equal([]string{"222", "111"}, identity.PhoneNumbers)
	s.assertFlat()
}

func (s *IdentifySuite) TestAllMatchesSecondaryResolvesThroughLink() {
	s.seed(
		primary(1, strPtr("1"), strPtr("p@x.com"), 0),
		secondary(2, 1, strPtr("2"), strPtr("s@x.com"), time.Minute),
	)

	identity, err := s.service.Identify(context.Background(), strPtr("2"), nil)
	s.Require().NoError(err)

	s.Equal(2, s.store.Count())
	s.Equal(models.ContactID(1), identity.PrimaryContactID)
	s.Equal([]string{"p@x.com", "s@x.com"}, identity.Emails)
	s.Empty(s.sink.List())
}

func (s *IdentifySuite) TestIdempotence() {
	s.seed(primary(1, strPtr("123"), strPtr("a@x.com"), 0))
	ctx := context.Background()

	first, err := s.service.Identify(ctx, strPtr("123"), strPtr("new@x.com"))
	s.Require().NoError(err)
	count := s.store.Count()

	second, err := s.service.Identify(ctx, strPtr("123"), strPtr("new@x.com"))
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(count, s.store.Count())
}

func (s *IdentifySuite) TestInputIsTrimmed() {
	s.seed(primary(1, strPtr("123"), strPtr("a@x.com"), 0))

	identity, err := s.service.Identify(context.Background(), strPtr(" 123 "), strPtr("\ta@x.com\n"))
	s.Require().NoError(err)
	s.Equal(models.ContactID(1), identity.PrimaryContactID)
	s.Equal(1, s.store.Count())
}

func (s *IdentifySuite) TestRejection() {
	cases := []struct {
		name         string
		phone, email *string
	}{
		{"both absent", nil, nil},
		{"both empty", strPtr(""), strPtr("")},
		{"whitespace only", strPtr("  "), strPtr("\t")},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Identify(context.Background(), tc.phone, tc.email)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
			s.Equal(0, s.store.Count())
		})
	}
}

func (s *IdentifySuite) TestDanglingLinkIsInvariantViolation() {
	s.seed(secondary(1, 99, strPtr("123"), nil, 0))

	_, err := s.service.Identify(context.Background(), strPtr("123"), nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *IdentifySuite) TestChainIsInvariantViolation() {
	s.seed(
		primary(1, strPtr("1"), nil, 0),
		secondary(2, 1, strPtr("2"), nil, time.Minute),
		secondary(3, 2, strPtr("3"), nil, 2*time.Minute),
	)

	_, err := s.service.Identify(context.Background(), strPtr("3"), strPtr("new@x.com"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	s.Equal(3, s.store.Count(), "corruption is reported, never repaired")
}

func (s *IdentifySuite) TestSoftDeletedContactsAreInvisible() {
	s.seed(primary(1, strPtr("123"), strPtr("a@x.com"), 0))
	s.Require().NoError(s.store.SoftDelete(context.Background(), 1))

	identity, err := s.service.Identify(context.Background(), strPtr("123"), strPtr("a@x.com"))
	s.Require().NoError(err)
	s.NotEqual(models.ContactID(1), identity.PrimaryContactID)
	s.Empty(identity.SecondaryContactIDs)
}

func (s *IdentifySuite) TestConcurrentIdenticalInputCreatesOnePrimary() {
	const callers = 20
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]models.ContactID, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity, err := s.service.Identify(ctx, strPtr("777"), strPtr("race@x.com"))
			errs[i] = err
			if err == nil {
				ids[i] = identity.PrimaryContactID
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		s.Require().NoError(errs[i])
		s.Equal(ids[0], ids[i])
	}
	s.Equal(1, s.store.Count())
}

func (s *IdentifySuite) TestRandomSequencesKeepClustersFlat() {
	rng := rand.New(rand.NewSource(42))
	phones := []string{"1", "2", "3", "4", "5"}
	emails := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"}
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		var phone, email *string
		if rng.Intn(4) != 0 {
			phone = strPtr(phones[rng.Intn(len(phones))])
		}
		if rng.Intn(4) != 0 || phone == nil {
			email = strPtr(emails[rng.Intn(len(emails))])
		}

		identity, err := s.service.Identify(ctx, phone, email)
		s.Require().NoError(err, "call %d", i)
		s.ElementsMatch(identity.Emails, uniq(identity.Emails))
		s.ElementsMatch(identity.PhoneNumbers, uniq(identity.PhoneNumbers))
		s.assertFlat()
	}
}

// assertFlat checks every stored secondary links directly to a primary.
func (s *IdentifySuite) assertFlat() {
	byID := map[models.ContactID]*models.Contact{}
	for _, c := range s.store.All() {
		byID[c.ID] = c
	}
	for _, c := range byID {
		if c.IsPrimary() {
			s.Nil(c.LinkedID, "primary %d has a link", c.ID)
			continue
		}
		s.Require().NotNil(c.LinkedID, "secondary %d has no link", c.ID)
		root, ok := byID[*c.LinkedID]
		s.Require().True(ok, "secondary %d links to missing %d", c.ID, *c.LinkedID)
		s.True(root.IsPrimary(), "secondary %d links to non-primary %d", c.ID, root.ID)
	}
}

func uniq(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// failingStore fails the first Update so a merge aborts half-way.
type failingStore struct {
	ports.ContactStore
}

func (failingStore) Update(context.Context, models.ContactID, models.ContactUpdate) error {
	return errors.New("disk full")
}

type failingTx struct {
	inner ports.StoreTx
}

func (t failingTx) RunInTx(ctx context.Context, fn func(store ports.ContactStore) error) error {
	return t.inner.RunInTx(ctx, func(store ports.ContactStore) error {
		return fn(failingStore{ContactStore: store})
	})
}

func TestIdentifyRollsBackFailedMerge(t *testing.T) {
	mem := store.NewInMemoryStore()
	mem.Seed(
		primary(1, strPtr("123"), nil, 0),
		primary(2, nil, strPtr("b@x.com"), time.Minute),
		secondary(3, 2, strPtr("456"), nil, 2*time.Minute),
	)
	before := mem.All()
	sink := audit.NewMemorySink()
	svc := New(failingTx{inner: store.NewInMemoryTx(mem)}, WithAuditPublisher(audit.NewPublisher(sink)))

	_, err := svc.Identify(context.Background(), strPtr("123"), strPtr("b@x.com"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	assert.Equal(t, before, mem.All())
	assert.Empty(t, sink.List(), "rolled back work is never audited")
}

func TestCommittedEventsAreLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	svc := New(store.NewInMemoryTx(store.NewInMemoryStore()), WithLogger(logger))

	_, err := svc.Identify(context.Background(), strPtr("123"), strPtr("a@x.com"))
	require.NoError(t, err)
	_, err = svc.Identify(context.Background(), strPtr("123"), strPtr("b@x.com"))
	require.NoError(t, err)

	logs := buf.String()
	assert.Equal(t, 1, strings.Count(logs, string(audit.ActionCreatedPrimary)))
	assert.Equal(t, 1, strings.Count(logs, string(audit.ActionCreatedSecondary)))
}

func TestBuildIdentity(t *testing.T) {
	t.Run("primary values first and duplicates skipped", func(t *testing.T) {
		cluster := []*models.Contact{
			secondary(2, 5, strPtr("111"), strPtr("s@x.com"), 0),
			primary(5, strPtr("222"), nil, time.Minute),
			secondary(7, 5, strPtr("222"), strPtr("s@x.com"), 2*time.Minute),
			secondary(9, 5, nil, strPtr("t@x.com"), 3*time.Minute),
		}
		identity, err := BuildIdentity(cluster)
		require.NoError(t, err)
		assert.Equal(t, models.ContactID(5), identity.PrimaryContactID)
		assert.Equal(t, []string{"s@x.com", "t@x.com"}, identity.Emails)
		assert.Equal(t, []string{"222", "111"}, identity.PhoneNumbers)
		assert.Equal(t, []models.ContactID{2, 7, 9}, identity.SecondaryContactIDs)
	})

	t.Run("no primary", func(t *testing.T) {
		_, err := BuildIdentity([]*models.Contact{secondary(2, 1, strPtr("1"), nil, 0)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("two primaries", func(t *testing.T) {
		_, err := BuildIdentity([]*models.Contact{primary(1, strPtr("1"), nil, 0), primary(2, strPtr("2"), nil, 0)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestCollidingRoots(t *testing.T) {
	matches := []*models.Contact{
		primary(1, nil, nil, 0),
		secondary(4, 3, nil, nil, time.Minute),
		primary(3, nil, nil, 2*time.Minute),
		secondary(5, 1, nil, nil, 3*time.Minute),
		secondary(6, 8, nil, nil, 4*time.Minute),
	}
	assert.Equal(t, []models.ContactID{3, 8}, collidingRoots(matches, 1))
}

func TestCarriesNewInfo(t *testing.T) {
	cluster := []*models.Contact{
		primary(1, strPtr("123"), nil, 0),
		secondary(2, 1, nil, strPtr("a@x.com"), time.Minute),
	}
	cases := []struct {
		phone, email *string
		want         bool
	}{
		{strPtr("123"), strPtr("a@x.com"), false},
		{strPtr("123"), nil, false},
		{nil, strPtr("a@x.com"), false},
		{strPtr("999"), strPtr("a@x.com"), true},
		{strPtr("123"), strPtr("b@x.com"), true},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			assert.Equal(t, tc.want, carriesNewInfo(cluster, models.MatchQuery{PhoneNumber: tc.phone, Email: tc.email}))
		})
	}
}
