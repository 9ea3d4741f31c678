// Package e2e runs the client core against a keystore served over HTTP.
// It has no exported API; everything lives in its tests.
package e2e
