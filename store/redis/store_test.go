package redis_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	"github.com/xraph/strand/store/redis"
)

func TestVersionAtLeast(t *testing.T) {
	tests := []struct {
		have string
		want bool
	}{
		{"6.2.0", true},
		{"6.2.14", true},
		{"7.4.1", true},
		{"6.0.20", false},
		{"5.0.7", false},
		{"7.2.0-rc1", true},
		{"garbage", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.have, func(t *testing.T) {
			if got := redis.VersionAtLeast(tt.have, "6.2.0"); got != tt.want {
				t.Errorf("VersionAtLeast(%q) = %v, want %v", tt.have, got, tt.want)
			}
		})
	}
}

func TestAddJobCall_PicksScript(t *testing.T) {
	ns := keys.New("strand", "mail")
	now := time.UnixMilli(1700000000000)

	tests := []struct {
		name string
		args redis.AddJobArgs
		want string
	}{
		{"standard", redis.AddJobArgs{Name: "a"}, redis.ScriptAddStandardJob},
		{"delayed", redis.AddJobArgs{Name: "a", Opts: job.Options{Delay: 1000}}, redis.ScriptAddDelayedJob},
		{"prioritized", redis.AddJobArgs{Name: "a", Opts: job.Options{Priority: 3}}, redis.ScriptAddPrioritizedJob},
		{"delay wins over priority", redis.AddJobArgs{Name: "a", Opts: job.Options{Delay: 1, Priority: 3}}, redis.ScriptAddDelayedJob},
		{"parent", redis.AddJobArgs{Name: "a", WaitChildren: true}, redis.ScriptAddParentJob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := redis.AddJobCall(ns, tt.args, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Name != tt.want {
				t.Errorf("script = %s, want %s", c.Name, tt.want)
			}
			cmd, _ := redis.Lookup(c.Name)
			if len(c.Keys) != cmd.NumKeys {
				t.Errorf("got %d keys, want %d", len(c.Keys), cmd.NumKeys)
			}
		})
	}
}

func TestAddJobCall_PackedArgs(t *testing.T) {
	ns := keys.New("strand", "mail")
	parent := job.ParentRef{ID: "p1", QueueKey: "strand:reports"}
	c, err := redis.AddJobCall(ns, redis.AddJobArgs{
		Name: "send",
		Data: json.RawMessage(`{"to":"a"}`),
		Opts: job.Options{
			JobID:         "custom",
			Parent:        &parent,
			Deduplication: &job.Deduplication{ID: "d"},
		},
	}, time.UnixMilli(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var args []any
	if err := msgpack.Unmarshal(c.Args[0].([]byte), &args); err != nil {
		t.Fatalf("unpack args: %v", err)
	}
	if len(args) != 9 {
		t.Fatalf("got %d packed args, want 9", len(args))
	}
	if args[0] != "strand:mail:" || args[1] != "custom" || args[2] != "send" {
		t.Errorf("identity args = %v", args[:3])
	}
	if args[4] != "strand:reports:p1" || args[5] != "strand:reports:p1:dependencies" {
		t.Errorf("parent args = %v, %v", args[4], args[5])
	}
	if args[8] != "strand:mail:de:d" {
		t.Errorf("dedup key = %v", args[8])
	}
	if c.Args[1] != `{"to":"a"}` {
		t.Errorf("data = %v", c.Args[1])
	}

	var opts map[string]any
	if err := msgpack.Unmarshal(c.Args[2].([]byte), &opts); err != nil {
		t.Fatalf("unpack opts: %v", err)
	}
	if _, ok := opts["parent"]; ok {
		t.Error("parent must not be packed into opts")
	}
	if ts, ok := opts["timestamp"]; !ok || ts == nil {
		t.Error("timestamp must default to now")
	}
}
