// Package remediation matches error signatures against learned patterns and
// dispatches their attached remediation actions.
//
// The engine does not know how to fix anything. It looks up the pattern for
// a signature, decides whether the pattern has earned automatic application,
// claims the cool-down window, and invokes the named action through a
// Registry. The action's result is written back to the pattern store as a
// success or failure count and recorded as an Attempt.
//
// # Eligibility
//
// A pattern is eligible when a remediation is attached and either:
//   - at least MinSamples attempts exist and the success rate is at least
//     MinConfidence, or
//   - no attempts exist yet and the remediation is marked trusted on
//     first use.
//
// Any other pattern below the sample size is "insufficient evidence".
//
// # Usage
//
//	registry := remediation.NewRegistry()
//	svc, err := remediation.NewService(remediation.DefaultConfig(), store, registry, recorder, logger)
//
//	out := svc.FindAndApply(ctx, sig, logEntryID)
//	if out.Applied {
//	    // the remediation ran and reported success
//	}
//
// Actions must be idempotent or safely retryable: the cool-down bounds
// repeated application but two callers racing on different replicas may
// both run an action when the store's claim is not shared.
package remediation
