package bootstrap

import (
	"testing"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
)

type fakeInstanceSource struct {
	byObject map[uint16][]uint16
}

func (f *fakeInstanceSource) ListInstanceIDs(objectID uint16) ([]uint16, error) {
	return f.byObject[objectID], nil
}

func TestServerWalksSecurityThenServerThenFinishes(t *testing.T) {
	src := &fakeInstanceSource{byObject: map[uint16][]uint16{
		securityObjectID: {0, 1},
		serverObjectID:   {0},
	}}
	var puts [][2]uint16
	finished := false
	s := NewServer(4, src, func(o, i uint16) error {
		puts = append(puts, [2]uint16{o, i})
		return nil
	}, func() error {
		finished = true
		return nil
	})

	if _, err := s.Begin("10.0.0.1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	for i := 0; i < 3; i++ {
		done, err := s.Advance("10.0.0.1")
		if err != nil {
			t.Fatalf("Advance #%d: %v", i, err)
		}
		if done {
			t.Fatalf("Advance #%d reported done early", i)
		}
	}
	done, err := s.Advance("10.0.0.1")
	if err != nil {
		t.Fatalf("final Advance: %v", err)
	}
	if !done {
		t.Fatal("expected the final Advance to report done")
	}
	if !finished {
		t.Error("expected FinishFunc to have been called")
	}
	if len(puts) != 3 {
		t.Fatalf("expected 3 PUTs, got %d: %v", len(puts), puts)
	}
	if puts[0] != [2]uint16{securityObjectID, 0} || puts[1] != [2]uint16{securityObjectID, 1} {
		t.Errorf("expected Security instances to be walked first, got %v", puts)
	}
	if puts[2] != [2]uint16{serverObjectID, 0} {
		t.Errorf("expected Server instance last, got %v", puts)
	}
}

func TestServerBeginTooManyClients(t *testing.T) {
	src := &fakeInstanceSource{byObject: map[uint16][]uint16{}}
	s := NewServer(1, src, func(o, i uint16) error { return nil }, func() error { return nil })
	if _, err := s.Begin("10.0.0.1"); err != nil {
		t.Fatalf("Begin #1: %v", err)
	}
	if _, err := s.Begin("10.0.0.2"); lwm2merr.CodeOf(err) != lwm2merr.PayloadTooLarge {
		t.Fatalf("expected PayloadTooLarge for a session beyond maxClients, got %v", err)
	}
}

func TestServerBeginIsIdempotentPerAddress(t *testing.T) {
	src := &fakeInstanceSource{byObject: map[uint16][]uint16{securityObjectID: {0}}}
	s := NewServer(4, src, func(o, i uint16) error { return nil }, func() error { return nil })
	p1, err := s.Begin("10.0.0.1")
	if err != nil {
		t.Fatalf("Begin #1: %v", err)
	}
	p2, err := s.Begin("10.0.0.1")
	if err != nil {
		t.Fatalf("Begin #2: %v", err)
	}
	if p1 != p2 {
		t.Error("expected Begin to return the same session for a repeated address")
	}
}

func TestServerAdvanceUnknownSession(t *testing.T) {
	src := &fakeInstanceSource{byObject: map[uint16][]uint16{}}
	s := NewServer(4, src, func(o, i uint16) error { return nil }, func() error { return nil })
	done, err := s.Advance("unknown")
	if !done || lwm2merr.CodeOf(err) != lwm2merr.NotFound {
		t.Fatalf("expected (true, NotFound), got (%v, %v)", done, err)
	}
}

func TestServerAdvancePropagatesPutError(t *testing.T) {
	src := &fakeInstanceSource{byObject: map[uint16][]uint16{securityObjectID: {0}}}
	wantErr := lwm2merr.New(lwm2merr.InternalError, "put failed")
	s := NewServer(4, src, func(o, i uint16) error { return wantErr }, func() error { return nil })
	if _, err := s.Begin("10.0.0.1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	done, err := s.Advance("10.0.0.1")
	if !done || err != wantErr {
		t.Fatalf("expected (true, wantErr), got (%v, %v)", done, err)
	}
	if _, ok := s.Progress("10.0.0.1"); ok {
		t.Error("expected the session to be dropped after a PUT error")
	}
}
