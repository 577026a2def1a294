// Package models manages the per-scale upscaling model handles.
//
// A Manager owns one Handle per scale factor. Acquire hands out a Lease on
// the handle (loading the backing model on first use, or waiting for a load
// already in flight); Release returns it and starts the idle clock. Handles
// are never evicted on release: the memory governor reclaims idle ones when
// accelerator memory runs short.
//
// Load and invocation failures feed a process-wide failure counter. When the
// counter reaches the configured threshold the breaker opens and every
// Acquire, for any scale, returns a lease on the classical Lanczos upscaler
// until Reset is called. Successful invocations decay the counter.
//
// All handle and counter mutation happens under one mutex. Model loads and
// invocations run outside it, so a reference count never changes across a
// blocking call.
package models
