// Package e2e drives a running reconcile server through Gherkin scenarios.
// Point E2E_BASE_URL at the server; the suite is skipped without it.
package e2e

import (
	"github.com/cucumber/godog"

	"reconcile/e2e/steps/identify"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^the reconcile server is healthy$`, tc.serverIsHealthy)
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)

	identify.RegisterSteps(ctx, tc)
}
