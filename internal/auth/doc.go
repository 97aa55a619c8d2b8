// Package auth authenticates API callers.
//
// Callers present a static access key and receive a short-lived HS256 JWT.
// Keys are configured only as Argon2id PHC hashes (see cdpctl hash-key).
// Two roles exist: operator (read, open, close) and admin (everything,
// including privileged control commands and the audit trail). The
// role-permission mapping is static.
package auth
