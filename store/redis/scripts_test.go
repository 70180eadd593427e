package redis_test

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/xraph/strand/store/redis"
)

func TestExpand_IncludesOnceDepthFirst(t *testing.T) {
	fsys := fstest.MapFS{
		"lua/main.lua": {Data: []byte(strings.Join([]string{
			`local rcall = redis.call`,
			`--- @include "includes/a"`,
			`--- @include "includes/b"`,
			`return a() + b()`,
		}, "\n"))},
		"lua/includes/a.lua":      {Data: []byte("--- @include \"shared\"\nlocal function a() return shared() end")},
		"lua/includes/b.lua":      {Data: []byte("--- @include \"shared\"\nlocal function b() return shared() end")},
		"lua/includes/shared.lua": {Data: []byte("local function shared() return 1 end")},
	}

	src, err := redis.Expand(fsys, "lua/main.lua")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(src, "local function shared()"); n != 1 {
		t.Errorf("shared emitted %d times, want 1", n)
	}
	if strings.Contains(src, "@include") {
		t.Error("include directives must not survive expansion")
	}
	order := []string{"local rcall", "function shared", "function a", "function b", "return a() + b()"}
	last := -1
	for _, frag := range order {
		i := strings.Index(src, frag)
		if i <= last {
			t.Fatalf("%q out of order in:\n%s", frag, src)
		}
		last = i
	}
}

func TestExpand_Errors(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{
			name: "missing include",
			fsys: fstest.MapFS{"lua/main.lua": {Data: []byte(`--- @include "includes/nope"`)}},
		},
		{
			name: "cycle",
			fsys: fstest.MapFS{
				"lua/main.lua":       {Data: []byte(`--- @include "includes/a"`)},
				"lua/includes/a.lua": {Data: []byte(`--- @include "b"`)},
				"lua/includes/b.lua": {Data: []byte(`--- @include "a"`)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := redis.Expand(tt.fsys, "lua/main.lua"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

var keysRe = regexp.MustCompile(`KEYS\[(\d+)\]`)

// Every script's declared key count must match the highest key index its
// header documents, and every script on disk must be registered.
func TestRegistry_MatchesHeaders(t *testing.T) {
	entries, err := os.ReadDir("lua")
	if err != nil {
		t.Fatalf("read lua dir: %v", err)
	}

	onDisk := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		onDisk++
		name := strings.TrimSuffix(e.Name(), ".lua")

		cmd, ok := redis.Lookup(name)
		if !ok {
			t.Errorf("script %s is not registered", name)
			continue
		}

		raw, err := os.ReadFile("lua/" + e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		header, _, _ := strings.Cut(string(raw), "]]")
		highest := 0
		for _, m := range keysRe.FindAllStringSubmatch(header, -1) {
			n, _ := strconv.Atoi(m[1])
			highest = max(highest, n)
		}
		if cmd.NumKeys != highest {
			t.Errorf("%s: NumKeys = %d, header documents %d", name, cmd.NumKeys, highest)
		}
		if strings.Contains(cmd.Source, "@include") {
			t.Errorf("%s: unexpanded include", name)
		}
	}

	if got := len(redis.Commands()); got != onDisk {
		t.Errorf("registry has %d scripts, %d on disk", got, onDisk)
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, ok := redis.Lookup("nope"); ok {
		t.Fatal("expected unknown script")
	}
}

var xaddRe = regexp.MustCompile(`"XADD",\s*[^,]+,\s*"MAXLEN"`)

// Event streams are capped by opts.maxLenEvents, so no script may append
// to one without a MAXLEN.
func TestScripts_EventAppendsAreTrimmed(t *testing.T) {
	for _, cmd := range redis.Commands() {
		for n, line := range strings.Split(cmd.Source, "\n") {
			code, _, _ := strings.Cut(line, "--")
			if strings.Contains(code, `"XADD"`) && !xaddRe.MatchString(code) {
				t.Errorf("%s line %d appends without MAXLEN: %s", cmd.Name, n+1, strings.TrimSpace(line))
			}
		}
	}
}

func TestScripts_PrioritizedPoppedBeforeWait(t *testing.T) {
	for _, name := range []string{redis.ScriptMoveToActive, redis.ScriptMoveToFinished} {
		cmd, ok := redis.Lookup(name)
		if !ok {
			t.Fatalf("%s not registered", name)
		}
		prio := strings.Index(cmd.Source, "moveJobFromPrioritizedToActive(prioritizedKey")
		wait := strings.Index(cmd.Source, `rcall("RPOPLPUSH", waitKey`)
		if prio < 0 || wait < 0 || prio > wait {
			t.Errorf("%s: prioritized pop at %d, wait pop at %d", name, prio, wait)
		}
	}
}
