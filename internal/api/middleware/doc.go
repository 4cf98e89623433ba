// Package middleware provides HTTP middleware for the admin API.
//
//   - CORS: local admin consoles by default, or an explicit origin list
//   - RateLimit: per-IP token buckets, idle clients dropped after IdleTTL
//   - GlobalRateLimit: one bucket shared by every client
package middleware
