package queue

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/xraph/strand"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
)

func TestRolesOf(t *testing.T) {
	tests := []struct {
		name    string
		states  []job.State
		want    []keys.Role
		wantErr bool
	}{
		{"waiting spans paused", []job.State{job.StateWaiting}, []keys.Role{keys.Wait, keys.Paused}, false},
		{"finished", []job.State{job.StateCompleted, job.StateFailed}, []keys.Role{keys.Completed, keys.Failed}, false},
		{"waiting children", []job.State{job.StateWaitingChildren}, []keys.Role{keys.WaitingChildren}, false},
		{"unknown", []job.State{job.StateUnknown}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rolesOf(tt.states)
			if tt.wantErr {
				if !errors.Is(err, strand.ErrInvalidOptions) {
					t.Fatalf("err = %v, want ErrInvalidOptions", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("roles = %v, want %v", got, tt.want)
			}
		})
	}

	all, err := rolesOf(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(AllStates)+1 {
		t.Errorf("all roles = %v", all)
	}
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		role keys.Role
		want job.State
	}{
		{keys.Wait, job.StateWaiting},
		{keys.Paused, job.StateWaiting},
		{keys.WaitingChildren, job.StateWaitingChildren},
		{keys.Delayed, job.StateDelayed},
		{keys.Active, job.StateActive},
	}
	for _, tt := range tests {
		if got := stateOf(tt.role); got != tt.want {
			t.Errorf("stateOf(%s) = %s, want %s", tt.role, got, tt.want)
		}
	}
}

func TestEncodeData(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{"nil", nil, "{}", false},
		{"raw", json.RawMessage(`[1,2]`), "[1,2]", false},
		{"bytes", []byte(`{"a":1}`), `{"a":1}`, false},
		{"invalid bytes", []byte(`{`), "", true},
		{"struct", struct {
			To string `json:"to"`
		}{"x"}, `{"to":"x"}`, false},
		{"unencodable", make(chan int), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeData(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if !tt.wantErr && string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPrepare(t *testing.T) {
	q := New("emails", nil, WithDefaultJobOptions(job.Options{Attempts: 4, SizeLimit: 16}))

	args, err := q.prepare("welcome", map[string]int{"n": 1}, job.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if args.Opts.Attempts != 4 {
		t.Errorf("attempts = %d, want default 4", args.Opts.Attempts)
	}
	if args.Opts.Timestamp == 0 {
		t.Error("timestamp not set")
	}

	args, err = q.prepare("welcome", nil, job.Options{Attempts: 1})
	if err != nil {
		t.Fatal(err)
	}
	if args.Opts.Attempts != 1 {
		t.Errorf("explicit attempts overridden: %d", args.Opts.Attempts)
	}

	if _, err := q.prepare("big", map[string]string{"body": "far more than sixteen bytes"}, job.Options{}); !errors.Is(err, strand.ErrInvalidOptions) {
		t.Errorf("oversized payload err = %v", err)
	}
	if _, err := q.prepare("bad", nil, job.Options{JobID: "123"}); !errors.Is(err, strand.ErrInvalidJobID) {
		t.Errorf("numeric id err = %v", err)
	}
}

func TestNewAppliesOptions(t *testing.T) {
	q := New("emails", nil, WithPrefix("app"), WithMaxLenEvents(50), WithSkipVersionCheck())
	if q.Namespace().QueueKey() != "app:emails" {
		t.Errorf("queue key = %s", q.Namespace().QueueKey())
	}
	if q.config.MaxLenEvents != 50 || !q.config.SkipVersionCheck {
		t.Errorf("config = %+v", q.config)
	}
	if q.Name() != "emails" || q.Schedulers() == nil {
		t.Error("accessors not wired")
	}
}

func TestReadyWithoutClient(t *testing.T) {
	q := New("emails", nil)
	if err := q.Ready(t.Context()); !errors.Is(err, strand.ErrNoClient) {
		t.Errorf("err = %v, want ErrNoClient", err)
	}
}
