// Package store manages project-isolated persistence.
//
// Each project slug owns a directory under the data root with two
// SQLite databases: project.db (workflow definitions and secrets) and
// simpletable.db (user tables created on demand by table nodes).
// Pools are materialized lazily, at most once per slug per process.
//
// Isolation is structural: executors receive a ProjectHandle for the
// activation's project and have no way to name another project.
package store
