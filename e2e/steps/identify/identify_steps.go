package identify

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is the part of the scenario context these steps need.
type TestContext interface {
	POST(path string, body any) error
	Status() int
	DecodeResponse(v any) error
}

type identifyResponse struct {
	Contact struct {
		PrimaryContactID    int64    `json:"primaryContactId"`
		Emails              []string `json:"emails"`
		PhoneNumbers        []string `json:"phoneNumbers"`
		SecondaryContactIDs []int64  `json:"secondaryContactIds"`
	} `json:"contact"`
}

// RegisterSteps registers identify-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &identifySteps{tc: tc, primaries: map[string]int64{}}

	ctx.Step(`^I identify with phone "([^"]*)" and email "([^"]*)"$`, steps.identifyWithBoth)
	ctx.Step(`^I identify with phone "([^"]*)"$`, steps.identifyWithPhone)
	ctx.Step(`^I identify with email "([^"]*)"$`, steps.identifyWithEmail)
	ctx.Step(`^I identify with nothing$`, steps.identifyWithNothing)

	ctx.Step(`^I remember the primary as "([^"]*)"$`, steps.rememberPrimary)
	ctx.Step(`^the primary should be "([^"]*)"$`, steps.primaryShouldBe)
	ctx.Step(`^the emails should be "([^"]*)"$`, steps.emailsShouldBe)
	ctx.Step(`^the phone numbers should be "([^"]*)"$`, steps.phonesShouldBe)
	ctx.Step(`^there should be (\d+) secondary contacts?$`, steps.secondaryCountShouldBe)
}

type identifySteps struct {
	tc        TestContext
	primaries map[string]int64
	last      identifyResponse
}

func (s *identifySteps) identify(body map[string]any) error {
	if err := s.tc.POST("/api/identify", body); err != nil {
		return err
	}
	s.last = identifyResponse{}
	if s.tc.Status() != 200 {
		return nil
	}
	return s.tc.DecodeResponse(&s.last)
}

func (s *identifySteps) identifyWithBoth(_ context.Context, phone, email string) error {
	return s.identify(map[string]any{"phoneNumber": phone, "email": email})
}

func (s *identifySteps) identifyWithPhone(_ context.Context, phone string) error {
	return s.identify(map[string]any{"phoneNumber": phone})
}

func (s *identifySteps) identifyWithEmail(_ context.Context, email string) error {
	return s.identify(map[string]any{"email": email})
}

func (s *identifySteps) identifyWithNothing(context.Context) error {
	return s.identify(map[string]any{})
}

func (s *identifySteps) rememberPrimary(_ context.Context, name string) error {
	if s.last.Contact.PrimaryContactID == 0 {
		return fmt.Errorf("no identity to remember")
	}
	s.primaries[name] = s.last.Contact.PrimaryContactID
	return nil
}

func (s *identifySteps) primaryShouldBe(_ context.Context, name string) error {
	want, ok := s.primaries[name]
	if !ok {
		return fmt.Errorf("unknown primary %q", name)
	}
	if got := s.last.Contact.PrimaryContactID; got != want {
		return fmt.Errorf("expected primary %d (%s), got %d", want, name, got)
	}
	return nil
}

func (s *identifySteps) emailsShouldBe(_ context.Context, list string) error {
	return compareList("emails", split(list), s.last.Contact.Emails)
}

func (s *identifySteps) phonesShouldBe(_ context.Context, list string) error {
	return compareList("phone numbers", split(list), s.last.Contact.PhoneNumbers)
}

func (s *identifySteps) secondaryCountShouldBe(_ context.Context, n int) error {
	if got := len(s.last.Contact.SecondaryContactIDs); got != n {
		return fmt.Errorf("expected %d secondary contacts, got %d", n, got)
	}
	return nil
}

func split(list string) []string {
	if list == "" {
		return []string{}
	}
	return strings.Split(list, ",")
}

func compareList(field string, want, got []string) error {
	if !slices.Equal(want, got) {
		return fmt.Errorf("expected %s %v, got %v", field, want, got)
	}
	return nil
}
