// Package secrets redacts credentials from source code before it is sent to
// a completion provider. Findings carry rule and line, never the secret.
package secrets
