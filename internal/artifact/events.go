package artifact

import (
	"context"
	"time"

	"github.com/discosat/satop-platform/internal/apierror"
)

// Triple is a single RDF-like (subject, predicate, object) fact.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
}

// Relationship supplies either the subject or the object of a triple whose
// other side is filled in by the synthetic Action node (spec.md §4.D).
type Relationship struct {
	Predicate string
	Subject   string // set iff this relationship supplies the subject
	Object    string // set iff this relationship supplies the object
}

// Event is the user-supplied shape expanded by LogEvent. Descriptor names
// the synthetic Action node; Relationships expand against it; Timestamp
// defaults to now.
type Event struct {
	Descriptor    string
	Relationships []Relationship
	PrebuiltTriples []Triple
	Timestamp     time.Time
}

const actionLoggedAtPredicate = "loggedAt"

// Expand turns an Event into the set of triples it denotes: one triple per
// relationship (action filling whichever side the relationship didn't
// supply), any pre-built triples passed through unchanged, and an automatic
// (action, loggedAt, timestamp) triple.
func (e Event) Expand(now time.Time) []Triple {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}

	action := "action:" + e.Descriptor
	triples := make([]Triple, 0, len(e.Relationships)+len(e.PrebuiltTriples)+1)

	for _, rel := range e.Relationships {
		t := Triple{Predicate: rel.Predicate}
		switch {
		case rel.Subject != "":
			t.Subject = rel.Subject
			t.Object = action
		case rel.Object != "":
			t.Subject = action
			t.Object = rel.Object
		default:
			continue
		}
		triples = append(triples, t)
	}

	triples = append(triples, e.PrebuiltTriples...)
	triples = append(triples, Triple{Subject: action, Predicate: actionLoggedAtPredicate, Object: ts.Format(time.RFC3339Nano)})

	return triples
}

// LogEvent expands e and appends its triples to the append-only event log.
// There is no update or delete of event_triples rows.
func (s *Store) LogEvent(ctx context.Context, e Event) error {
	triples := e.Expand(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierror.Internal(err, "begin event log tx")
	}
	defer tx.Rollback()

	for _, t := range triples {
		if _, err := tx.ExecContext(ctx, `INSERT INTO event_triples (subject, predicate, object) VALUES (?, ?, ?)`,
			t.Subject, t.Predicate, t.Object); err != nil {
			return apierror.Internal(err, "inserting event triple")
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.Internal(err, "commit event log")
	}
	return nil
}
