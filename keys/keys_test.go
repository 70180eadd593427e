package keys_test

import (
	"errors"
	"testing"

	"github.com/xraph/strand/keys"
)

func TestNamespace_RoleKeys(t *testing.T) {
	ns := keys.New("strand", "emails")

	tests := []struct {
		role keys.Role
		want string
	}{
		{keys.Wait, "strand:emails:wait"},
		{keys.Paused, "strand:emails:paused"},
		{keys.PriorityCounter, "strand:emails:pc"},
		{keys.StalledCheck, "strand:emails:stalled-check"},
		{keys.WaitingChildren, "strand:emails:waiting-children"},
		{keys.Dedup, "strand:emails:de"},
	}
	for _, tt := range tests {
		if got := ns.Key(tt.role); got != tt.want {
			t.Errorf("Key(%s) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestNamespace_RolesAreInjective(t *testing.T) {
	ns := keys.New("strand", "q")
	seen := make(map[string]keys.Role)
	for _, r := range keys.Roles {
		k := ns.Key(r)
		if prev, ok := seen[k]; ok {
			t.Fatalf("roles %s and %s share key %q", prev, r, k)
		}
		seen[k] = r
	}

	for _, id := range []string{"job-1", "a1b2", "repeat:daily:1700000000000"} {
		if _, ok := seen[ns.Job(id)]; ok {
			t.Errorf("job key for %q collides with a role key", id)
		}
	}
}

func TestNamespace_JobKeys(t *testing.T) {
	ns := keys.New("p", "q")

	if got := ns.Job("42"); got != "p:q:42" {
		t.Errorf("Job = %q", got)
	}
	if got := ns.Lock("42"); got != "p:q:42:lock" {
		t.Errorf("Lock = %q", got)
	}
	if got := ns.Dependencies("42"); got != "p:q:42:dependencies" {
		t.Errorf("Dependencies = %q", got)
	}
	if got := ns.Unsuccessful("42"); got != "p:q:42:unsuccessful" {
		t.Errorf("Unsuccessful = %q", got)
	}
	if got := ns.DedupKey("abc"); got != "p:q:de:abc" {
		t.Errorf("DedupKey = %q", got)
	}
	if got := ns.Scheduler("daily"); got != "p:q:repeat:daily" {
		t.Errorf("Scheduler = %q", got)
	}
	if got := ns.QueueKey(); got != "p:q" {
		t.Errorf("QueueKey = %q", got)
	}
}

func TestParseJobKey(t *testing.T) {
	tests := []struct {
		key     string
		queue   string
		id      string
		wantErr bool
	}{
		{key: "strand:emails:17", queue: "emails", id: "17"},
		{key: "strand:emails:repeat:daily:1700000000000", queue: "emails", id: "repeat:daily:1700000000000"},
		{key: "strand:emails", wantErr: true},
		{key: "strand::17", wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			ref, err := keys.ParseJobKey(tt.key)
			if tt.wantErr {
				if !errors.Is(err, keys.ErrInvalidKey) {
					t.Fatalf("expected ErrInvalidKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Namespace.Queue() != tt.queue || ref.ID != tt.id {
				t.Errorf("got queue=%q id=%q", ref.Namespace.Queue(), ref.ID)
			}
			if ref.Key() != tt.key {
				t.Errorf("Key() = %q, want %q", ref.Key(), tt.key)
			}
		})
	}
}

func TestFromQueueKey(t *testing.T) {
	ns, err := keys.FromQueueKey("strand:reports")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ns.Base() != "strand:reports:" {
		t.Errorf("Base = %q", ns.Base())
	}
	if _, err := keys.FromQueueKey("noqueue"); err == nil {
		t.Error("expected error for key without queue")
	}
}
