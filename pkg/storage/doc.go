// Package storage provides storage implementations for scheduler persistence.
//
// This package includes:
//   - GormStorage: A GORM-based implementation supporting various databases
//
// The Storage interface is defined in pkg/core and must be implemented
// by any custom storage backend. All contended transitions (job assignment,
// worker capacity, screenshot status) are expressed as conditional updates
// checked via RowsAffected, so replicated dispatchers never double-assign.
//
// Most users should import the root package github.com/mailcanary/renderq
// which provides NewGormStorage() to create storage instances.
package storage
