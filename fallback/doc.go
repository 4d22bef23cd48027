// Package fallback supplies the statically configured login used when no
// renewal path can produce a fresh credential (automated or dev bootstrap).
//
// Providers may legitimately have nothing to offer; callers must treat
// ok == false as "no fallback configured", not as an error.
package fallback
