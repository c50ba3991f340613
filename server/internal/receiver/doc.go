// Package receiver is the push side of the metric source: collectors POST
// samples to /api/v1/workspaces/{ws}/samples and the receiver appends them
// to the sample buffer the engine evaluates against.
//
// A request carrying an empty metric name, a zero timestamp or a non-finite
// value is rejected with 400 and nothing from it is stored. Authentication
// is enforced upstream by the API key middleware (see package auth).
package receiver
