// Package triage ingests issue-tracker webhooks and automates assignment
// workflows.
//
// The pipeline has two halves joined by a durable queue. The gateway half
// verifies each delivery's HMAC signature, rejects replays and duplicates,
// and enqueues a prioritized job; the worker half dequeues jobs, derives
// assignment changes, and runs the configured rules against them, with
// exponential-backoff retries and a replayable dead-letter queue for jobs
// that exhaust their budget.
//
// A minimal embedding:
//
//	t, err := triage.New(
//		triage.WithStore(memory.New()),
//		triage.WithSigningSecret(secret),
//		triage.WithUpstream(upstream.Config{BaseURL: trackerURL, Token: token}),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	t.Start(ctx)
//	defer t.Stop(ctx)
//
//	http.Handle("/", t.Gateway())
//	http.Handle("/admin/", http.StripPrefix("/admin", t.Admin()))
//
// Rules match on the issue's team, priority, labels, workflow state, title,
// and assignee pattern, optionally refined by a boolean expression, and run
// actions such as auto-starting the issue, escalating it, assigning a
// reviewer after a delay, requesting a working branch, or triggering an
// automation workflow. Side effects on the tracker go through a serialized
// client that respects the tracker's rate-limit quota.
package triage
