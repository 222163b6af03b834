// Package stores provides the persistent lease table that serializes start and
// stop commands across processes, plus the operation audit log. It is backed by
// SQLite in WAL mode with schema migrations embedded in the binary.
package stores
