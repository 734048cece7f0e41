package resconf

import "testing"

func TestSearchListExpansionWWW(t *testing.T) {
	c := New()
	c.Options.Ndots = 1
	c.AddSearch("example.com.")

	it := c.NewSearchIterator("www")
	var got []string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []string{"www.example.com.", "www."}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSearchListExpansionAlreadyQualified(t *testing.T) {
	c := New()
	c.Options.Ndots = 1
	c.AddSearch("example.com.")

	it := c.NewSearchIterator("a.b")
	var got []string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []string{"a.b.", "a.b.example.com."}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAddNameserverCapped(t *testing.T) {
	c := New()
	for i := 0; i < maxNameservers+4; i++ {
		c.AddNameserver(nil)
	}
	if len(c.Nameservers) != maxNameservers {
		t.Fatalf("got %d nameservers, want cap %d", len(c.Nameservers), maxNameservers)
	}
}
