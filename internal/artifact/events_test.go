package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventExpandProducesRelationshipAndLoggedAtTriples(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := Event{
		Descriptor: "upload",
		Relationships: []Relationship{
			{Predicate: "uploadedBy", Subject: "user:alice"},
			{Predicate: "targets", Object: "artifact:abc123"},
		},
	}

	triples := e.Expand(now)
	require.Len(t, triples, 3)

	require.Equal(t, Triple{Subject: "user:alice", Predicate: "uploadedBy", Object: "action:upload"}, triples[0])
	require.Equal(t, Triple{Subject: "action:upload", Predicate: "targets", Object: "artifact:abc123"}, triples[1])
	require.Equal(t, "action:upload", triples[2].Subject)
	require.Equal(t, actionLoggedAtPredicate, triples[2].Predicate)
}

func TestEventExpandPassesPrebuiltTriplesThrough(t *testing.T) {
	e := Event{
		Descriptor:      "noop",
		PrebuiltTriples: []Triple{{Subject: "a", Predicate: "b", Object: "c"}},
	}
	triples := e.Expand(time.Now())
	require.Contains(t, triples, Triple{Subject: "a", Predicate: "b", Object: "c"})
}

func TestEventExpandUsesExplicitTimestamp(t *testing.T) {
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Event{Descriptor: "x", Timestamp: ts}
	triples := e.Expand(time.Now())
	last := triples[len(triples)-1]
	require.Equal(t, ts.Format(time.RFC3339Nano), last.Object)
}
