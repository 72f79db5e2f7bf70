// Package clock abstracts the time source used by retry pacing and the
// event polling loop.
//
// Production code uses [Real]. Tests use [Fake], whose waits complete
// immediately while advancing the fake time, so a test can assert exactly
// which delays were requested without sleeping.
package clock
