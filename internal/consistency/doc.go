// Package consistency compares the backing store against the search index,
// classifies every divergence and repairs the index on request.
//
// A check is one-shot: Run scans eagerly and returns a Check holding the
// inconsistencies in discovery order. Repair is a separate, explicit call
// that is only legal on a completed check.
//
// The scan does not lock the index. Writes committed while a scan is running
// can produce false positives; callers that care must serialise the scan
// against index writers themselves. Repair holds the index write lock for
// its whole pass.
package consistency
