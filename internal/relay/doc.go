// Package relay receives UDP JSON sensor packets from the OpenWearables mobile
// app, normalizes them into a stream/sample model and fans each sample out to
// registered listeners.
//
// A Server owns one UDP socket. Poll drains every pending datagram, answers
// probe packets in-band, parses sample packets and delivers them synchronously
// to a snapshot of the listener list. Run calls Poll in a loop until the
// context is cancelled or the server is closed.
//
// Streams are identified by a source id of the form
//
//	oe-v1:<device_name>:<device_channel>:<sensor_name>:<source>
//
// where every component is percent-encoded so embedded colons cannot break
// the delimiter structure. Empty components are written as "-".
package relay
