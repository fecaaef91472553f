// Package middleware provides HTTP middleware for the kubefs health and
// metrics endpoint.
package middleware
