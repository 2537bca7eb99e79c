// Package auth issues and validates the bearer tokens that guard the
// bridge HTTP API.
//
// Tokens are HS256 JWTs signed with the configured secret and carry a
// role: viewer (read), operator (read and control) or admin (everything,
// including frame diagnostics). There is no user database; tokens are
// minted offline with `dobissctl token`.
package auth
