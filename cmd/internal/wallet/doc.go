// Package wallet keeps installed wallet passes in sync with credential state.
//
// It has three parts: a registration store (which devices hold which pass),
// a sync coordinator (turns credential changes into push jobs and version
// tags), and HTTP surfaces for the Apple-style pass web service and the
// Google save flow. Pushes are content-free wakeups; devices fetch the
// fresh pass themselves.
package wallet
