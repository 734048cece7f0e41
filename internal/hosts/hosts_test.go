package hosts

import (
	"testing"

	"github.com/dnsscience/resolved/internal/packet"
)

func newAnswerPacket(t *testing.T) *packet.Packet {
	t.Helper()
	p, err := packet.New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func nameOf(t *testing.T, rr packet.RR) (string, bool) {
	t.Helper()
	rd, err := rr.RData()
	if err != nil {
		t.Fatal(err)
	}
	return packet.NameOf(rd)
}

func newLoopbackTable() *Table {
	t := New()
	t.Add(Entry{
		AF:       AFInet,
		Address:  [16]byte{127, 0, 0, 1},
		Hostname: "localhost.",
		ArpaForm: "1.0.0.127.in-addr.arpa.",
	})
	return t
}

func TestHostsALookup(t *testing.T) {
	tbl := newLoopbackTable()
	ans := newAnswerPacket(t)
	if err := tbl.Query(ans, "localhost", packet.TypeA, packet.ClassIN); err != nil {
		t.Fatal(err)
	}
	rrs, err := ans.AllRRs()
	if err != nil {
		t.Fatal(err)
	}
	if len(rrs) != 1 {
		t.Fatalf("got %d RRs, want 1", len(rrs))
	}
	if rrs[0].TTL != 0 {
		t.Fatalf("ttl = %d, want 0", rrs[0].TTL)
	}
}

func TestHostsPTRLookup(t *testing.T) {
	tbl := newLoopbackTable()
	ans := newAnswerPacket(t)
	if err := tbl.Query(ans, "1.0.0.127.in-addr.arpa.", packet.TypePTR, packet.ClassIN); err != nil {
		t.Fatal(err)
	}
	rrs, err := ans.AllRRs()
	if err != nil {
		t.Fatal(err)
	}
	if len(rrs) != 1 {
		t.Fatalf("got %d RRs, want 1", len(rrs))
	}
	name, ok := nameOf(t, rrs[0])
	if !ok || name != "localhost." {
		t.Fatalf("ptr target = %q", name)
	}
}

func TestQueryEchoesQuestion(t *testing.T) {
	tbl := newLoopbackTable()
	ans := newAnswerPacket(t)
	if err := tbl.Query(ans, "localhost", packet.TypeA, packet.ClassIN); err != nil {
		t.Fatal(err)
	}
	qs, err := ans.Questions()
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 1 || qs[0].Name != "localhost." || qs[0].Type != packet.TypeA {
		t.Fatalf("questions = %+v, want echoed localhost./A", qs)
	}
}

func TestAliasRowsSkippedForPTR(t *testing.T) {
	tbl := newLoopbackTable()
	tbl.Add(Entry{AF: AFInet, Hostname: "alias.", ArpaForm: "1.0.0.127.in-addr.arpa.", IsAlias: true})
	ans := newAnswerPacket(t)
	if err := tbl.Query(ans, "1.0.0.127.in-addr.arpa.", packet.TypePTR, packet.ClassIN); err != nil {
		t.Fatal(err)
	}
	rrs, _ := ans.AllRRs()
	if len(rrs) != 1 {
		t.Fatalf("alias row should not have produced a PTR record, got %d", len(rrs))
	}
}
