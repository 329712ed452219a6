// Package tracker defines the listing model, the transient extraction types, and the
// collaborator interfaces (fetchers, stores, publishers, clocks) shared by the
// ingestion pipeline.
package tracker
