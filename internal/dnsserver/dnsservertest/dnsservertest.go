// Package dnsservertest provides convenient helper functions for unit-tests
// in packages related to dnsserver.
package dnsservertest
