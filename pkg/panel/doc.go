// Package panel is the HTTP client for the external VPN provisioning panel.
//
// The panel is a best-effort collaborator: device-count lookups degrade to a
// default when the panel is unreachable, and state pushes are fire-and-forget
// from the billing dispatcher. All calls are bounded by the configured
// timeout so a slow panel can never stall a billing batch.
package panel
