// Package partition defines the physical layout of the columnar store: the
// partition key derived from a row's timestamp and scope, the two historical
// directory layouts, and partition pruning used by the query engine to skip
// directories before opening any file.
//
// The layout is declared by configuration, never inferred from existing
// directory names: inference is ambiguous between the two schemes and was a
// known source of divergence.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/sensorlake/internal/errors"
)

// Scheme is the partition directory layout of a dataset root.
type Scheme int

const (
	// SchemeDirectory lays out bare value segments: plant/machine/2023/1.
	SchemeDirectory Scheme = iota

	// SchemeHive lays out labeled segments: plant_name=plant/.../month=1.
	SchemeHive
)

// Partition path segment labels under SchemeHive, in order.
const (
	fieldPlant   = "plant_name"
	fieldMachine = "machine_no"
	fieldYear    = "year"
	fieldMonth   = "month"
)

// ParseScheme parses a scheme name from configuration.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(s) {
	case "", "directory", "dir", "flat":
		return SchemeDirectory, nil
	case "hive":
		return SchemeHive, nil
	default:
		return SchemeDirectory, fmt.Errorf("%w: unknown partitioning scheme %q", errors.ErrInvalidConfig, s)
	}
}

func (s Scheme) String() string {
	switch s {
	case SchemeHive:
		return "hive"
	default:
		return "directory"
	}
}

// Key locates one leaf partition.
type Key struct {
	Plant   string
	Machine string
	Year    int
	Month   int
}

// KeyFor derives the partition key a row belongs to, deterministically from
// its timestamp and ingestion scope.
func KeyFor(plant, machine string, ts time.Time) Key {
	return Key{Plant: plant, Machine: machine, Year: ts.Year(), Month: int(ts.Month())}
}

// LeafDir returns the leaf directory for a key under the scheme.
func (s Scheme) LeafDir(root string, k Key) string {
	if s == SchemeHive {
		return filepath.Join(root,
			fieldPlant+"="+k.Plant,
			fieldMachine+"="+k.Machine,
			fieldYear+"="+strconv.Itoa(k.Year),
			fieldMonth+"="+strconv.Itoa(k.Month))
	}
	return filepath.Join(root, k.Plant, k.Machine,
		strconv.Itoa(k.Year), strconv.Itoa(k.Month))
}

// Filter restricts which leaves Prune returns. Zero-valued fields impose no
// constraint; Start/End bound the (year, month) of a leaf inclusively.
type Filter struct {
	Plant   string
	Machine string
	Start   time.Time
	End     time.Time
}

// Leaf is one pruned leaf partition with its parquet part files.
type Leaf struct {
	Key   Key
	Dir   string
	Files []string
}

// Prune walks the dataset root under the declared scheme and returns the
// leaves that can contain rows matching the filter, without opening any
// file. A directory name that does not parse under the declared scheme
// fails with a scheme-mismatch error; this surfaces writing with one scheme
// and querying with the other as an error rather than as silent zero rows.
func Prune(root string, scheme Scheme, f Filter) ([]Leaf, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("dataset root: %w", err)
	}

	var leaves []Leaf

	plants, err := segments(root, scheme, fieldPlant)
	if err != nil {
		return nil, err
	}
	for _, plant := range plants {
		if f.Plant != "" && plant.value != f.Plant {
			continue
		}
		machines, err := segments(plant.dir, scheme, fieldMachine)
		if err != nil {
			return nil, err
		}
		for _, machine := range machines {
			if f.Machine != "" && machine.value != f.Machine {
				continue
			}
			years, err := segments(machine.dir, scheme, fieldYear)
			if err != nil {
				return nil, err
			}
			for _, year := range years {
				y, err := strconv.Atoi(year.value)
				if err != nil {
					return nil, errors.SchemeMismatch("non-numeric year segment %q", year.name)
				}
				months, err := segments(year.dir, scheme, fieldMonth)
				if err != nil {
					return nil, err
				}
				for _, month := range months {
					m, err := strconv.Atoi(month.value)
					if err != nil {
						return nil, errors.SchemeMismatch("non-numeric month segment %q", month.name)
					}
					if !monthInRange(y, m, f.Start, f.End) {
						continue
					}
					files, err := partFiles(month.dir)
					if err != nil {
						return nil, err
					}
					if len(files) == 0 {
						continue
					}
					leaves = append(leaves, Leaf{
						Key:   Key{Plant: plant.value, Machine: machine.value, Year: y, Month: m},
						Dir:   month.dir,
						Files: files,
					})
				}
			}
		}
	}

	return leaves, nil
}

type segment struct {
	name  string
	value string
	dir   string
}

// segments lists the subdirectories of dir as partition values under the
// scheme, decoding (and requiring) the field label when the scheme is hive
// and rejecting labeled segments when it is not.
func segments(dir string, scheme Scheme, field string) ([]segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var segs []segment
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		value := name
		if scheme == SchemeHive {
			prefix := field + "="
			if !strings.HasPrefix(name, prefix) {
				return nil, errors.SchemeMismatch("segment %q lacks %q label", name, field)
			}
			value = strings.TrimPrefix(name, prefix)
		} else if strings.Contains(name, "=") {
			return nil, errors.SchemeMismatch("labeled segment %q under directory scheme", name)
		}
		segs = append(segs, segment{name: name, value: value, dir: filepath.Join(dir, name)})
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].value < segs[j].value })
	return segs, nil
}

// monthInRange reports whether a (year, month) partition can intersect the
// inclusive [start, end] range.
func monthInRange(y, m int, start, end time.Time) bool {
	if !start.IsZero() {
		if y < start.Year() || (y == start.Year() && m < int(start.Month())) {
			return false
		}
	}
	if !end.IsZero() {
		if y > end.Year() || (y == end.Year() && m > int(end.Month())) {
			return false
		}
	}
	return true
}

// partFiles lists the parquet files in a leaf directory.
func partFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
