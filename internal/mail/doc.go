// Package mail holds the transactional mail dispatch core: the mail log model,
// the request service that records and enqueues sends, and the processor that
// renders, delivers and reconciles one dispatch attempt.
//
// Collaborators (log store, queue, renderer, delivery provider) are expressed as
// small interfaces so the core stays independent of Postgres, Redis and any
// particular email API.
package mail
