// Package mergeinfo parses, merges and serialises per-path ranges of
// server revisions (spec.md §3 Mergeinfo entity, §4.9 / C9).
package mergeinfo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// Range is an inclusive revision range [From, To].
type Range struct {
	From int64
	To   int64
}

// Info is a set of (path, revision-range) records, normalised so that
// within each path the ranges are disjoint, sorted, and maximally
// coalesced.
type Info struct {
	// Paths maps a server path to its sorted, coalesced ranges.
	Paths map[string][]Range
}

// New returns an empty Info.
func New() *Info {
	return &Info{Paths: make(map[string][]Range)}
}

// Parse reads the grammar "path:range-list\n" repeated, where a
// range-list is comma-separated "rev" or "from-to" items.
func Parse(text string) (*Info, error) {
	info := New()
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			return nil, svnerr.New(svnerr.Protocol, "mergeinfo line missing ':': %q", line)
		}
		path := line[:idx]
		rangesPart := line[idx+1:]
		var ranges []Range
		for _, item := range strings.Split(rangesPart, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			r, err := parseRangeItem(item)
			if err != nil {
				return nil, svnerr.Wrap(svnerr.Protocol, err, "parse mergeinfo range")
			}
			ranges = append(ranges, r)
		}
		info.Paths[path] = coalesce(ranges)
	}
	return info, nil
}

func parseRangeItem(item string) (Range, error) {
	item = strings.TrimSuffix(item, "*") // inheritable-range marker, ignored
	if dash := strings.IndexByte(item, '-'); dash > 0 {
		from, err := strconv.ParseInt(item[:dash], 10, 64)
		if err != nil {
			return Range{}, err
		}
		to, err := strconv.ParseInt(item[dash+1:], 10, 64)
		if err != nil {
			return Range{}, err
		}
		return Range{From: from, To: to}, nil
	}
	rev, err := strconv.ParseInt(item, 10, 64)
	if err != nil {
		return Range{}, err
	}
	return Range{From: rev, To: rev}, nil
}

// coalesce sorts ranges and merges adjacent-or-overlapping ones within a
// single path: [a,b] and [b+1,c] (or any overlap) merge to [a,c].
func coalesce(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].From != ranges[j].From {
			return ranges[i].From < ranges[j].From
		}
		return ranges[i].To < ranges[j].To
	})
	out := []Range{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.From <= last.To+1 {
			if r.To > last.To {
				last.To = r.To
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Clone returns a deep copy of info.
func (info *Info) Clone() *Info {
	out := New()
	for p, ranges := range info.Paths {
		cp := make([]Range, len(ranges))
		copy(cp, ranges)
		out.Paths[p] = cp
	}
	return out
}

// Merge inserts every range from b into a, then subtracts any revision
// covered by mask before insertion, and recoalesces. a is mutated and
// also returned.
func Merge(a, b *Info, mask *Info) *Info {
	for path, ranges := range b.Paths {
		var masked []Range
		for _, r := range ranges {
			masked = append(masked, subtract(r, mask.rangesFor(path))...)
		}
		a.Paths[path] = coalesce(append(append([]Range{}, a.Paths[path]...), masked...))
		if len(a.Paths[path]) == 0 {
			delete(a.Paths, path)
		}
	}
	return a
}

func (info *Info) rangesFor(path string) []Range {
	if info == nil {
		return nil
	}
	return info.Paths[path]
}

// subtract removes every revision covered by any range in masked from r,
// returning the (possibly split, possibly empty) remaining pieces.
func subtract(r Range, masked []Range) []Range {
	pieces := []Range{r}
	for _, m := range masked {
		var next []Range
		for _, p := range pieces {
			if m.To < p.From || m.From > p.To {
				next = append(next, p)
				continue
			}
			if m.From > p.From {
				next = append(next, Range{From: p.From, To: m.From - 1})
			}
			if m.To < p.To {
				next = append(next, Range{From: m.To + 1, To: p.To})
			}
		}
		pieces = next
	}
	return pieces
}

// Serialise groups by path (sorted), emitting sorted, coalesced ranges:
// "from-to" when from < to, the bare revision when from == to.
func (info *Info) Serialise() string {
	paths := make([]string, 0, len(info.Paths))
	for p := range info.Paths {
		if len(info.Paths[p]) > 0 {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	var sb strings.Builder
	for _, p := range paths {
		ranges := coalesce(append([]Range{}, info.Paths[p]...))
		items := make([]string, 0, len(ranges))
		for _, r := range ranges {
			if r.From < r.To {
				items = append(items, fmt.Sprintf("%d-%d", r.From, r.To))
			} else {
				items = append(items, fmt.Sprintf("%d", r.From))
			}
		}
		sb.WriteString(p)
		sb.WriteByte(':')
		sb.WriteString(strings.Join(items, ","))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Equal reports whether info and other hold the same normalised ranges.
func (info *Info) Equal(other *Info) bool {
	return info.Serialise() == other.Serialise()
}
