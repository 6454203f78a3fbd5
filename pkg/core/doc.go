// Package core provides the fundamental types and interfaces for the renderq package.
//
// This package contains:
//   - RenderJob, EmailClient, WorkerNode, Screenshot, TestResult and QueueEntry
//     data models with GORM annotations
//   - Storage interface defining the persistence contract
//   - Event types for scheduler monitoring
//   - Error types for submission validation and capture handling
//
// Most users should import the root package github.com/mailcanary/renderq
// instead of this package directly.
package core
