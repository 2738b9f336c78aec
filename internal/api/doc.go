// Package api exposes the REST surface of the assistant: submitting
// conversational queries, resolving pending transaction approvals, and
// recording execution reports. It also serves health and metrics endpoints
// for operational tooling.
package api
