// Package store provides the PostgreSQL-backed stores for billing entities:
// accounts and their ledger, subscriptions, tariffs, and temporary traffic
// purchases.
//
// # Design
//
// Account balances are held in integer minor currency units (cents) and are
// only ever mutated through AccountStore.Debit, an atomic check-and-decrement.
// Ledger entries are append-only. Quota mutations triggered by expired traffic
// purchases are applied in a single database transaction per subscription
// (SubscriptionStore.ApplyTrafficDecay) so a failure reconciling one
// subscription never affects another.
package store
