package router

import (
	"sort"
	"strings"
)

// Attributes are the message attributes filters are evaluated against.
type Attributes map[string]string

func (a Attributes) clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

type filterOp int

const (
	opAllow filterOp = iota + 1
	opDeny
	opExists
)

// Filter is a predicate over a single attribute key.
type Filter struct {
	key    string
	op     filterOp
	values map[string]struct{}
}

// AllowList matches when the attribute is present and equal to one of values.
func AllowList(key string, values ...string) Filter {
	return Filter{key: key, op: opAllow, values: toSet(values)}
}

// DenyList matches when the attribute is absent or not equal to any of values.
func DenyList(key string, values ...string) Filter {
	return Filter{key: key, op: opDeny, values: toSet(values)}
}

// Exists matches whenever the attribute is present, whatever its value.
func Exists(key string) Filter {
	return Filter{key: key, op: opExists}
}

// Key returns the attribute the filter reads.
func (f Filter) Key() string { return f.key }

// Match evaluates the filter.
func (f Filter) Match(attrs Attributes) bool {
	v, ok := attrs[f.key]
	switch f.op {
	case opAllow:
		if !ok {
			return false
		}
		_, hit := f.values[v]
		return hit
	case opDeny:
		if !ok {
			return true
		}
		_, hit := f.values[v]
		return !hit
	case opExists:
		return ok
	}
	return false
}

func (f Filter) String() string {
	vals := make([]string, 0, len(f.values))
	for v := range f.values {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	switch f.op {
	case opAllow:
		return f.key + " in {" + strings.Join(vals, ",") + "}"
	case opDeny:
		return f.key + " not in {" + strings.Join(vals, ",") + "}"
	case opExists:
		return "exists(" + f.key + ")"
	}
	return "invalid filter"
}

// Partition splits one attribute's value space into a closed category set
// and everything else. Inside and Outside are exact complements, so a pair of
// subscriptions built from the same Partition can never drift apart.
type Partition struct {
	key    string
	values []string
}

// NewPartition declares the categories that make up the inside of a partition.
func NewPartition(key string, values ...string) Partition {
	vals := make([]string, len(values))
	copy(vals, values)
	return Partition{key: key, values: vals}
}

// Inside is the allow-list of the partition's categories.
func (p Partition) Inside() Filter { return AllowList(p.key, p.values...) }

// Outside is the deny-list of the same categories, including absence.
func (p Partition) Outside() Filter { return DenyList(p.key, p.values...) }

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// probes enumerates one representative of every equivalence class the given
// filters can distinguish: absence, each listed value, and one unlisted value.
// Allow, deny and exists predicates cannot tell two unlisted values apart, so
// this set is exhaustive.
func probes(key string, filters []Filter) []Attributes {
	seen := map[string]struct{}{}
	out := []Attributes{{}}
	for _, f := range filters {
		for v := range f.values {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, Attributes{key: v})
		}
	}
	other := "\x00unlisted"
	for {
		if _, ok := seen[other]; !ok {
			break
		}
		other += "_"
	}
	return append(out, Attributes{key: other})
}
