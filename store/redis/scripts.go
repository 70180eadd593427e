package redis

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

//go:embed lua
var luaFS embed.FS

// Script names.
const (
	ScriptAddStandardJob          = "addStandardJob"
	ScriptAddDelayedJob           = "addDelayedJob"
	ScriptAddPrioritizedJob       = "addPrioritizedJob"
	ScriptAddParentJob            = "addParentJob"
	ScriptMoveToActive            = "moveToActive"
	ScriptMoveToFinished          = "moveToFinished"
	ScriptMoveToDelayed           = "moveToDelayed"
	ScriptRetryJob                = "retryJob"
	ScriptMoveJobFromActiveToWait = "moveJobFromActiveToWait"
	ScriptPromote                 = "promote"
	ScriptPromoteJobs             = "promoteJobs"
	ScriptMoveToWaitingChildren   = "moveToWaitingChildren"
	ScriptExtendLock              = "extendLock"
	ScriptExtendLocks             = "extendLocks"
	ScriptReleaseLock             = "releaseLock"
	ScriptMoveStalledJobsToWait   = "moveStalledJobsToWait"
	ScriptPause                   = "pause"
	ScriptDrain                   = "drain"
	ScriptCleanJobsInSet          = "cleanJobsInSet"
	ScriptObliterate              = "obliterate"
	ScriptRemoveJob               = "removeJob"
	ScriptReprocessJob            = "reprocessJob"
	ScriptRetryJobs               = "retryJobs"
	ScriptGetCounts               = "getCounts"
	ScriptGetRanges               = "getRanges"
	ScriptGetState                = "getState"
	ScriptPaginate                = "paginate"
	ScriptAddJobScheduler         = "addJobScheduler"
	ScriptUpdateJobScheduler      = "updateJobScheduler"
	ScriptRemoveJobScheduler      = "removeJobScheduler"
	ScriptUpdateProgress          = "updateProgress"
	ScriptAddLog                  = "addLog"
	ScriptUpdateData              = "updateData"
	ScriptChangePriority          = "changePriority"
	ScriptChangeDelay             = "changeDelay"
	ScriptGetRateLimitTTL         = "getRateLimitTtl"
	ScriptIsMaxed                 = "isMaxed"
)

// numKeys is the static key count of every script. The argument layout is
// documented in each script's header.
var numKeys = map[string]int{
	ScriptAddStandardJob:          9,
	ScriptAddDelayedJob:           7,
	ScriptAddPrioritizedJob:       9,
	ScriptAddParentJob:            6,
	ScriptMoveToActive:            11,
	ScriptMoveToFinished:          13,
	ScriptMoveToDelayed:           8,
	ScriptRetryJob:                11,
	ScriptMoveJobFromActiveToWait: 11,
	ScriptPromote:                 9,
	ScriptPromoteJobs:             9,
	ScriptMoveToWaitingChildren:   5,
	ScriptExtendLock:              2,
	ScriptExtendLocks:             1,
	ScriptReleaseLock:             1,
	ScriptMoveStalledJobsToWait:   12,
	ScriptPause:                   7,
	ScriptDrain:                   6,
	ScriptCleanJobsInSet:          3,
	ScriptObliterate:              2,
	ScriptRemoveJob:               2,
	ScriptReprocessJob:            10,
	ScriptRetryJobs:               10,
	ScriptGetCounts:               1,
	ScriptGetRanges:               1,
	ScriptGetState:                8,
	ScriptPaginate:                1,
	ScriptAddJobScheduler:         10,
	ScriptUpdateJobScheduler:      10,
	ScriptRemoveJobScheduler:      2,
	ScriptUpdateProgress:          3,
	ScriptAddLog:                  2,
	ScriptUpdateData:              1,
	ScriptChangePriority:          8,
	ScriptChangeDelay:             6,
	ScriptGetRateLimitTTL:         2,
	ScriptIsMaxed:                 2,
}

// Command is one loaded script.
type Command struct {
	Name    string
	NumKeys int
	Source  string
	Script  *goredis.Script
}

// commands is built once at init from the embedded sources.
var commands = mustLoadCommands(luaFS, "lua")

// Lookup returns the command registered under name.
func Lookup(name string) (*Command, bool) {
	c, ok := commands[name]
	return c, ok
}

// Commands returns every registered command sorted by name.
func Commands() []*Command {
	out := make([]*Command, 0, len(commands))
	for _, c := range commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func mustLoadCommands(fsys fs.FS, dir string) map[string]*Command {
	out := make(map[string]*Command, len(numKeys))
	for name, n := range numKeys {
		src, err := Expand(fsys, path.Join(dir, name+".lua"))
		if err != nil {
			panic(fmt.Sprintf("strand/redis: load script %s: %v", name, err))
		}
		out[name] = &Command{
			Name:    name,
			NumKeys: n,
			Source:  src,
			Script:  goredis.NewScript(src),
		}
	}
	return out
}

// ── Include expansion ──

var includeRe = regexp.MustCompile(`^---\s*@include\s+"([^"]+)"\s*$`)

// Expand resolves the @include directives of the script at file. Include
// paths are relative to the including file and omit the .lua suffix. Each
// fragment is emitted once, before the code that includes it.
func Expand(fsys fs.FS, file string) (string, error) {
	var b strings.Builder
	if err := expandInto(&b, fsys, file, map[string]bool{}, nil); err != nil {
		return "", err
	}
	return b.String(), nil
}

func expandInto(b *strings.Builder, fsys fs.FS, file string, seen map[string]bool, stack []string) error {
	for _, s := range stack {
		if s == file {
			return fmt.Errorf("include cycle: %s -> %s", strings.Join(stack, " -> "), file)
		}
	}
	raw, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}

	stack = append(stack, file)
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		m := includeRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		inc := path.Join(path.Dir(file), m[1]+".lua")
		if seen[inc] {
			continue
		}
		if err := expandInto(b, fsys, inc, seen, stack); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		seen[inc] = true
	}
	return sc.Err()
}
