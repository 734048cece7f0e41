package hints

import "net"

// rootServers lists the 13 lettered root server IPv4 addresses. The
// original baked-in list is sometimes quoted as "14 root servers"
// because some root operators (e.g. J) announce from more than one
// anycast address, but there are exactly 13 letter-addresses to seed.
var rootServers = []net.IP{
	net.ParseIP("198.41.0.4"),     // a
	net.ParseIP("199.9.14.201"),   // b
	net.ParseIP("192.33.4.12"),    // c
	net.ParseIP("199.7.91.13"),    // d
	net.ParseIP("192.203.230.10"), // e
	net.ParseIP("192.5.5.241"),    // f
	net.ParseIP("192.112.36.4"),   // g
	net.ParseIP("198.97.190.53"),  // h
	net.ParseIP("192.36.148.17"),  // i
	net.ParseIP("192.58.128.30"),  // j
	net.ParseIP("193.0.14.129"),   // k
	net.ParseIP("199.7.83.42"),    // l
	net.ParseIP("202.12.27.33"),   // m
}

// NewRootHints builds a Table pre-populated with the root zone's
// hint pool, all at equal priority (so iteration order is entirely
// shuffle-determined, matching real root server selection).
func NewRootHints() *Table {
	t := New()
	for _, ip := range rootServers {
		t.Insert(".", ip, 0)
	}
	return t
}
