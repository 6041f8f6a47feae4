// Package hierarchy defines the four-level context chain — GLOBAL, PROJECT,
// BRANCH, TASK — together with the record model, the merge rules that produce
// a resolved view, and the error taxonomy shared by every layer above storage.
package hierarchy

import (
	"fmt"
	"strings"
)

// Level identifies one tier of the context chain.
type Level string

const (
	LevelGlobal  Level = "global"
	LevelProject Level = "project"
	LevelBranch  Level = "branch"
	LevelTask    Level = "task"
)

// Levels lists all levels in ancestor-first order.
var Levels = []Level{LevelGlobal, LevelProject, LevelBranch, LevelTask}

// depth maps a level to its distance from GLOBAL.
var depth = map[Level]int{
	LevelGlobal:  0,
	LevelProject: 1,
	LevelBranch:  2,
	LevelTask:    3,
}

// ParseLevel normalizes a user-supplied level name.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := depth[l]; !ok {
		return "", fmt.Errorf("hierarchy: unknown level %q (want global, project, branch, or task)", s)
	}
	return l, nil
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	_, ok := depth[l]
	return ok
}

// Depth returns the distance from GLOBAL (0) down to TASK (3).
func (l Level) Depth() int {
	return depth[l]
}

// Parent returns the next level up, or false for GLOBAL.
func (l Level) Parent() (Level, bool) {
	d := depth[l]
	if d == 0 {
		return "", false
	}
	return Levels[d-1], true
}

// Above reports whether l is a strict ancestor level of other.
func (l Level) Above(other Level) bool {
	return depth[l] < depth[other]
}

func (l Level) String() string {
	return string(l)
}
