// Package automaton composes an in-memory event bus with a recurring-job
// scheduler behind one engine for commerce-automation workloads.
//
// The engine owns three collaborators:
//
//   - a subscription registry mapping event names to ordered handler lists
//   - a dispatcher that resolves subscribers at publish time and runs each
//     delivery to settlement with retries, timeouts, and panic containment
//   - a scheduler that fires named jobs on interval or cron specs under
//     per-job concurrency policies
//
// Basic usage:
//
//	eng := automaton.New(
//		automaton.WithLogger(slog.Default()),
//		automaton.WithMaxConcurrent(16),
//	)
//
//	eng.Subscribe("order.placed", "inventory", event.HandlerFunc(reserveStock))
//	eng.Subscribe("order.placed", "receipts", event.HandlerFunc(sendReceipt))
//
//	eng.ScheduleEvery("inventory-sync", 5*time.Minute, syncInventory)
//
//	if err := eng.Start(ctx); err != nil {
//		return err
//	}
//	defer eng.Stop(context.Background())
//
//	result, err := eng.Publish(ctx, "order.placed", order)
//
// Handlers may publish further events from within an invocation; dispatch is
// re-entrant up to a configurable depth. Observability (slog, OpenTelemetry
// metrics and traces) and run history are opt-in via options.
package automaton
