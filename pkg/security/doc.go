// Package security provides validation, sanitization, and limits for the renderq package.
//
// This package includes:
//   - Input validation for email-client IDs and submitted HTML
//   - Error message sanitization to prevent sensitive data leakage
//   - Clamping functions to enforce safe limits on priority, retries and concurrency
//   - Security-related constants defining maximum sizes and counts
//
// Most users should import the root package github.com/mailcanary/renderq
// which re-exports these functions.
package security
