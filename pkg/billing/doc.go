// Package billing implements the recurring billing core: the daily charge
// processor, the traffic decay processor, and the driver loop that runs them
// on a fixed cadence.
//
// # Overview
//
// Subscriptions enrolled in per-day billing are charged once per billing
// cycle: the charge is the tariff's daily price multiplied by the number of
// devices provisioned on the account (defaulting to one when the panel is
// unreachable). Accounts that cannot cover the charge are suspended rather
// than driven negative. Temporary traffic purchases are reclaimed once their
// validity window expires, with defensive clamps protecting against drift
// between the subscription's bookkeeping and the purchase records.
//
// # Side effects
//
// Processors return the side effects they want performed (panel sync, user
// notification) instead of performing them inline. The Dispatcher executes
// them best-effort with bounded timeouts; a failed side effect is logged and
// never changes a billing outcome.
//
// # Ordering
//
// A subscription's next-charge timestamp advances only after its debit
// succeeds, so re-running a batch never charges the same cycle twice. The
// store's atomic check-and-decrement is the final guard against concurrent
// double-spending.
package billing
