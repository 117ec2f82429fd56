// Package secrets provides AES-256-GCM encryption for sensitive data
// at rest, such as third-party OAuth tokens. The encryption key is
// derived from an application-wide key plus a per-user key, so records
// belonging to different users never share an effective key.
package secrets
