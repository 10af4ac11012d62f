// Package ping sends ICMP echo requests and prints one line per reply in the
// diagnostic shell format.
//
// The socket is a golang.org/x/net/icmp packet connection: a raw
// "ip4:icmp" socket when Privileged is set, otherwise an unprivileged
// "udp4" datagram socket (Linux net.ipv4.ping_group_range). Replies whose
// identifier or sequence number do not match the outstanding request are
// dropped.
package ping
