// Package auth issues and validates the bearer tokens that protect the
// bridge's local API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. There is no user
// database: an operator mints a token with `myqbridge -issue-token` and
// hands it to the settings UI or to Core. The role claim selects a static
// permission set:
//
//   - viewer: read status and devices
//   - operator: viewer plus device commands
//   - admin: everything, including pairing and the refresh token
package auth
