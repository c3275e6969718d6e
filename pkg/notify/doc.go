// Package notify delivers user-facing billing notifications over the
// Telegram Bot API. Delivery is fire-and-forget from the billing
// dispatcher's point of view: errors are returned so they can be logged,
// but never affect a billing outcome.
package notify
