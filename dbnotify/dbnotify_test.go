package dbnotify

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
		wantErr bool
	}{
		{"update", `{"Table":"wheels","OnID":3,"Version":7,"Deleted":false}`, Event{"wheels", 3, 7, false}, false},
		{"delete", `{"Table":"wheels","OnID":3,"Version":7,"Deleted":true}`, Event{"wheels", 3, 7, true}, false},
		{"garbage", `not json`, Event{}, true},
		{"no id", `{"Table":"wheels"}`, Event{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvent(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Errorf("decodeEvent(%q) succeeded, want error", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEvent(%q) returned error: %v", tt.payload, err)
			}
			if *got != tt.want {
				t.Errorf("decodeEvent(%q) = %+v, want %+v", tt.payload, *got, tt.want)
			}
		})
	}
}

type fakeCache struct {
	invalidated [][2]int64
}

func (c *fakeCache) Invalidate(id, lock int64) {
	c.invalidated = append(c.invalidated, [2]int64{id, lock})
}

type fakeRefresher struct {
	refreshed [][2]int64
	forgotten []int64
	err       error
}

func (r *fakeRefresher) Refresh(_ context.Context, id, lock int64) error {
	r.refreshed = append(r.refreshed, [2]int64{id, lock})
	return r.err
}

func (r *fakeRefresher) Forget(id int64) {
	r.forgotten = append(r.forgotten, id)
}

func TestWheelDispatcher(t *testing.T) {
	cache := &fakeCache{}
	refresher := &fakeRefresher{}
	l, err := New(nil, clockwork.NewFakeClock(), NewWheelDispatcher(cache, refresher))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	ctx := context.Background()

	l.dispatch(ctx, &Event{Table: "wheels", OnID: 4, Version: 2})
	l.dispatch(ctx, &Event{Table: "wheels", OnID: 5, Version: 9, Deleted: true})
	l.dispatch(ctx, &Event{Table: "structures", OnID: 6, Version: 1})

	if len(cache.invalidated) != 2 || cache.invalidated[0] != [2]int64{4, 2} || cache.invalidated[1] != [2]int64{5, 9} {
		t.Errorf("invalidated = %v", cache.invalidated)
	}
	if len(refresher.refreshed) != 1 || refresher.refreshed[0] != [2]int64{4, 2} {
		t.Errorf("refreshed = %v", refresher.refreshed)
	}
	if len(refresher.forgotten) != 1 || refresher.forgotten[0] != 5 {
		t.Errorf("forgotten = %v", refresher.forgotten)
	}

	refresher.err = errors.New("boom")
	l.dispatch(ctx, &Event{Table: "wheels", OnID: 4, Version: 3})
}

func TestDuplicateConsumers(t *testing.T) {
	d := NewWheelDispatcher(nil, &fakeRefresher{})
	if _, err := New(nil, clockwork.NewFakeClock(), d, d); err == nil {
		t.Errorf("New() with two consumers for one table succeeded")
	}
}
