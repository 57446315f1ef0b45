package ipfs

import "testing"

func TestResolve(t *testing.T) {
	r := NewResolver("")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"scheme", "ipfs://QmX", "https://ipfs.io/ipfs/QmX"},
		{"scheme with path", "ipfs://bafyabc/1.json", "https://ipfs.io/ipfs/bafyabc/1.json"},
		{"scheme with ipfs segment", "ipfs://ipfs/QmX", "https://ipfs.io/ipfs/QmX"},
		{"bare cidv0", "QmX", "https://ipfs.io/ipfs/QmX"},
		{"bare cidv1", "bafybeigdyr", "https://ipfs.io/ipfs/bafybeigdyr"},
		{"https passthrough", "https://example.com/a.png", "https://example.com/a.png"},
		{"other scheme passthrough", "ar://tx", "ar://tx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.in); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewResolverGateway(t *testing.T) {
	r := NewResolver("https://gw.example/ipfs")
	if r.Gateway() != "https://gw.example/ipfs/" {
		t.Fatalf("gateway = %q", r.Gateway())
	}
	if got := r.Resolve("ipfs://QmX"); got != "https://gw.example/ipfs/QmX" {
		t.Fatalf("Resolve = %q", got)
	}
}
