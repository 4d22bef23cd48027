// Package rate provides fixed-window attempt counters backed by Redis.
//
// The development identity service uses it to throttle failed logins per
// identifier and refresh exchanges per subject.
package rate
