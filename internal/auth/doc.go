// Package auth issues and validates the bearer tokens that protect the
// bridge's status API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. Each carries a
// subject, a role and a random token id. The API only checks the
// signature, expiry and role; there is no user store or refresh flow.
package auth
