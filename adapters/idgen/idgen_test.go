package idgen_test

import (
	"regexp"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/artpar/modelapi/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if !uuidRegex.MatchString(id) {
			t.Fatalf("ID %s doesn't match UUID v4 format", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestULID_MonotonicAndParseable(t *testing.T) {
	g := idgen.NewULID()

	prev := ""
	for i := 0; i < 1000; i++ {
		id := g.New()
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("ID %s is not a valid ULID: %v", id, err)
		}
		if id <= prev {
			t.Fatalf("ULIDs not increasing: %s after %s", id, prev)
		}
		prev = id
	}
}

func TestOptions(t *testing.T) {
	opts := idgen.Options()
	if opts.UUIDs == nil || opts.ULIDs == nil {
		t.Fatalf("Options() = %+v, want both generators", opts)
	}
}
