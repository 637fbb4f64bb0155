// Package msgsock provides reliable fixed length text message transport over TCP.
//
// Features:
// - every frame is exactly HeaderLen+DataLen bytes, no delimiters
// - crc32 integrity check, sequence numbers, sender timestamp
// - client sends own hostname as first frame, server names link after it
// - per link statistic: errors by class, latency distribution, rates
// - client reconnect with stepped backoff
// - server broadcasts outbound messages to all links
//
// Out of scope:
// - payload semantics. Application gets decoded text.
// - reordering. Sequence gaps are only counted.
// - security. Trusted local network is assumed.
package msgsock
