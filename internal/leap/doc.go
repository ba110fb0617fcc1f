// Package leap implements a client for the Lutron LEAP protocol as
// spoken by Caseta Smart Bridge hubs: JSON messages, one per line, over
// a mutual-TLS TCP connection using certificates obtained at pairing.
//
// A Client owns a single connection. Requests are correlated to
// responses with client tags, so unsolicited zone status reports and
// button events can interleave freely with request traffic; those
// arrive on the Notifications channel, which closes when the
// connection ends. Reconnection is the caller's concern: dial a new
// Client and subscribe again.
package leap
