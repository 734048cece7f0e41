package packet

import "testing"

func TestPushIncrementsOnlyItsSection(t *testing.T) {
	p, err := New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.PushQuestion(Question{Name: "example.com.", Type: TypeA, Class: ClassIN}); err != nil {
		t.Fatal(err)
	}
	before := p.Len()
	if err := p.Push(AN, "example.com.", TypeA, ClassIN, 300, A{Addr: [4]byte{1, 2, 3, 4}}); err != nil {
		t.Fatal(err)
	}
	if p.Count(QD) != 1 || p.Count(AN) != 1 || p.Count(NS) != 0 || p.Count(AR) != 0 {
		t.Fatalf("unexpected counts: QD=%d AN=%d NS=%d AR=%d", p.Count(QD), p.Count(AN), p.Count(NS), p.Count(AR))
	}
	if p.Len() <= before {
		t.Fatal("end cursor did not advance")
	}
}

func TestQuestionRoundTrip(t *testing.T) {
	p, err := New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	want := Question{Name: "www.example.com.", Type: TypeAAAA, Class: ClassIN}
	if err := p.PushQuestion(want); err != nil {
		t.Fatal(err)
	}
	qs, err := p.Questions()
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 1 || qs[0] != want {
		t.Fatalf("got %+v, want %+v", qs, want)
	}
}

func TestNameCompressionRoundTrip(t *testing.T) {
	p, err := New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.PushQuestion(Question{Name: "a.example.com.", Type: TypeA, Class: ClassIN}); err != nil {
		t.Fatal(err)
	}
	// This owner name shares a suffix with the question name and should
	// compress to a backpointer.
	before := p.Len()
	if err := p.Push(AN, "b.example.com.", TypeA, ClassIN, 60, A{Addr: [4]byte{9, 9, 9, 9}}); err != nil {
		t.Fatal(err)
	}
	grew := p.Len() - before
	// "\x01b"(2) + pointer(2) + type(2) + class(2) + ttl(4) + rdlen(2) + rdata(4) = 18
	if grew > 20 {
		t.Fatalf("owner name did not compress: wrote %d bytes", grew)
	}

	rrs, err := p.AllRRs()
	if err != nil {
		t.Fatal(err)
	}
	if len(rrs) != 1 || rrs[0].Name != "b.example.com." {
		t.Fatalf("got %+v", rrs)
	}
}

func TestCompressionPointerLoopIsRejected(t *testing.T) {
	buf := make([]byte, 32)
	p, err := New(buf)
	if err != nil {
		t.Fatal(err)
	}
	// Hand-craft a pointer at offset 12 pointing to itself.
	p.buf[12] = 0xC0
	p.buf[13] = 12
	p.end = 14
	if _, _, err := p.DecodeName(12); err != ErrIllegal {
		t.Fatalf("want ErrIllegal, got %v", err)
	}
}

func TestPushRollsBackOnNoBufs(t *testing.T) {
	p, err := New(make([]byte, 20))
	if err != nil {
		t.Fatal(err)
	}
	before := p.Len()
	err = p.Push(AN, "way.too.long.to.fit.in.this.tiny.buffer.example.com.", TypeA, ClassIN, 60, A{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if p.Len() != before {
		t.Fatalf("end cursor not rolled back: %d != %d", p.Len(), before)
	}
}

func TestTTLTopBitForcedToZero(t *testing.T) {
	p, err := New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Push(AN, "x.", TypeA, ClassIN, 0xFFFFFFFF, A{}); err != nil {
		t.Fatal(err)
	}
	rrs, err := p.AllRRs()
	if err != nil {
		t.Fatal(err)
	}
	if rrs[0].TTL&0x80000000 != 0 {
		t.Fatalf("top bit not cleared: %x", rrs[0].TTL)
	}
}

func TestForeachFilterByType(t *testing.T) {
	p, err := New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	p.Push(AN, "x.", TypeA, ClassIN, 60, A{Addr: [4]byte{1, 1, 1, 1}})
	p.Push(AN, "x.", TypeAAAA, ClassIN, 60, AAAA{})
	p.Push(AN, "x.", TypeA, ClassIN, 60, A{Addr: [4]byte{2, 2, 2, 2}})

	rrs, err := p.Foreach(Filter{Type: TypeA}, Sort{Kind: SortPacket})
	if err != nil {
		t.Fatal(err)
	}
	if len(rrs) != 2 {
		t.Fatalf("got %d A records, want 2", len(rrs))
	}
}

func TestForeachShuffleIsDeterministicPerSeed(t *testing.T) {
	build := func() *Packet {
		p, _ := New(make([]byte, 512))
		for i := byte(0); i < 5; i++ {
			p.Push(AN, "x.", TypeA, ClassIN, 60, A{Addr: [4]byte{i, i, i, i}})
		}
		return p
	}
	a := build()
	b := build()
	ra, _ := a.Foreach(Filter{}, Sort{Kind: SortShuffle, Seed: 42})
	rb, _ := b.Foreach(Filter{}, Sort{Kind: SortShuffle, Seed: 42})
	for i := range ra {
		if string(ra[i].RawRData()) != string(rb[i].RawRData()) {
			t.Fatalf("same seed produced different order at %d", i)
		}
	}
}

func TestAnchorCleave(t *testing.T) {
	if Anchor("example.com") != "example.com." {
		t.Fatal("anchor did not append dot")
	}
	if Anchor(Anchor("example.com.")) != "example.com." {
		t.Fatal("anchor not idempotent")
	}
	if Cleave("www.example.com.") != "example.com." {
		t.Fatalf("cleave = %q", Cleave("www.example.com."))
	}
	if Cleave(".") != "." {
		t.Fatal("cleave of root should stay root")
	}
}

func TestGrowPreservesContent(t *testing.T) {
	p, err := New(make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}
	p.PushQuestion(Question{Name: "a.", Type: TypeA, Class: ClassIN})
	before := append([]byte(nil), p.Bytes()...)
	if err := p.Grow(65535); err != nil {
		t.Fatal(err)
	}
	if string(p.Bytes()) != string(before) {
		t.Fatal("grow altered existing bytes")
	}
}
