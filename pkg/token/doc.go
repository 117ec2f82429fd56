// Package token implements compact HMAC-signed tokens for short-lived,
// tamper-evident values such as OAuth state parameters. Tokens are not
// encrypted; do not put secrets in the payload.
package token
