package hierarchy

import (
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Data is an ordered key→value mapping. Order is preserved through storage
// and merging so resolved views are deterministic.
type Data = orderedmap.OrderedMap[string, any]

// NewData returns an empty ordered mapping.
func NewData() *Data {
	return orderedmap.New[string, any]()
}

// DataFromPairs builds a Data from alternating key/value pairs.
// Intended for tests and fixtures; panics on an odd pair count.
func DataFromPairs(pairs ...any) *Data {
	if len(pairs)%2 != 0 {
		panic("hierarchy: DataFromPairs requires key/value pairs")
	}
	d := NewData()
	for i := 0; i < len(pairs); i += 2 {
		d.Set(pairs[i].(string), pairs[i+1])
	}
	return d
}

// Ref addresses one context record: a level plus the owning entity's id.
// For GLOBAL the id is the per-user deterministic id (see GlobalID).
type Ref struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
}

func (r Ref) String() string {
	return string(r.Level) + "/" + r.ID
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.Level == "" && r.ID == ""
}

// Record is one persisted context row. Parent is zero for GLOBAL records and
// for records whose chain link was never established.
type Record struct {
	Ref       Ref       `json:"ref"`
	OwnerID   string    `json:"owner_user_id"`
	Parent    Ref       `json:"parent,omitempty"`
	Data      *Data     `json:"data"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy; Data entries are copied shallowly (values are
// treated as immutable once stored).
func (r *Record) Clone() *Record {
	cp := *r
	cp.Data = NewData()
	if r.Data != nil {
		for pair := r.Data.Oldest(); pair != nil; pair = pair.Next() {
			cp.Data.Set(pair.Key, pair.Value)
		}
	}
	return &cp
}

// globalNamespace seeds the deterministic per-user GLOBAL record id.
// Changing it orphans every existing GLOBAL row, so it never changes.
var globalNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// GlobalID derives the singleton GLOBAL record id for a user. The same user
// always maps to the same id, so concurrent first-access get-or-create calls
// converge on one row without a lookup-then-create race.
func GlobalID(userID string) string {
	return uuid.NewSHA1(globalNamespace, []byte("stratum:global:"+userID)).String()
}

// GlobalRef returns the Ref of a user's GLOBAL record.
func GlobalRef(userID string) Ref {
	return Ref{Level: LevelGlobal, ID: GlobalID(userID)}
}
