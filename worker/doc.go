// Package worker drives trigger instances through their workflows. A
// Processor runs one claimed step and commits it; a Pool runs many
// processors concurrently, heartbeats their claims and releases the claims
// of crashed workers.
package worker
