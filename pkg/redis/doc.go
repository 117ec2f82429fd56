// Package redis provides Redis client bootstrapping with startup
// retries and a health check helper.
package redis
