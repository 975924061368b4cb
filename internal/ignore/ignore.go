// Package ignore implements a hierarchy of gitignore-style rule files: a
// ".qbignore" at any directory level scopes its rules to that directory
// and below, and a resource is checked against every ignore file found by
// walking up from its own directory; it is ignored if any of them matches
// it. Grounded on
// qb/src/common/ignore.rs's QBIgnoreMap.
package ignore

import (
	"path"
	"strings"

	"github.com/nicolagi/quixbyte/internal/qbpath"
)

// FileName is the name of an ignore rule file. Map.Matched does not
// exclude files of this name; only the internal .qb/ tree is always
// ignored.
const FileName = ".qbignore"

// rule is one line of a parsed ignore file: a glob and whether it negates
// a previous match (a leading "!"), matching gitignore's own grammar.
type rule struct {
	glob    string
	negate  bool
	dirOnly bool
}

func parseRules(contents string) []rule {
	var rules []rule
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r := rule{glob: line}
		if strings.HasPrefix(line, "!") {
			r.negate = true
			r.glob = line[1:]
		}
		if strings.HasSuffix(r.glob, "/") {
			r.dirOnly = true
			r.glob = strings.TrimSuffix(r.glob, "/")
		}
		rules = append(rules, r)
	}
	return rules
}

func (r rule) matches(relPath string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	if ok, _ := path.Match(r.glob, relPath); ok {
		return true
	}
	if ok, _ := path.Match(r.glob, path.Base(relPath)); ok {
		return true
	}
	return false
}

// File is one parsed ignore file, scoped to the directory it lives in.
type File struct {
	dir   qbpath.Path
	raw   string
	rules []rule
}

// Parse builds a File from the raw contents of a .qbignore found at dir.
func Parse(dir qbpath.Path, contents string) File {
	return File{dir: dir, raw: contents, rules: parseRules(contents)}
}

// Matched reports whether resource is ignored by this file's rules. Later
// rules override earlier ones, as in gitignore.
func (f File) Matched(resource qbpath.Resource) bool {
	rel := strings.TrimPrefix(resource.Path.FSPath(), f.dir.FSPath())
	rel = strings.TrimPrefix(rel, "/")
	ignored := false
	for _, r := range f.rules {
		if r.matches(rel, resource.IsDir()) {
			ignored = !r.negate
		}
	}
	return ignored
}

// Map is the hierarchy of every currently-known ignore file, keyed by the
// directory it governs.
type Map struct {
	files map[qbpath.Path]File
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{files: make(map[qbpath.Path]File)}
}

// Set records (or replaces) the ignore file governing dir.
func (m *Map) Set(dir qbpath.Path, contents string) {
	m.files[dir] = Parse(dir, contents)
}

// Remove forgets the ignore file governing dir, e.g. because its
// .qbignore was deleted.
func (m *Map) Remove(dir qbpath.Path) {
	delete(m.files, dir)
}

// Matched walks up from resource's own directory (or from resource itself
// when it is a directory) to the root, consulting every governing ignore
// file on the way, and reports true as soon as one of them matches; a
// negation in a nearer file does not override a match in an ancestor's
// file. The internal .qb/ tree is always
// ignored, matching qbpaths::INTERNAL's special-casing in the source.
func (m *Map) Matched(resource qbpath.Resource) bool {
	if qbpath.Internal.IsParentOf(resource.Path) {
		return true
	}
	cur := resource.Path
	if !resource.IsDir() {
		cur = resource.Path.Parent()
	}
	for {
		if f, ok := m.files[cur]; ok {
			if f.Matched(resource) {
				return true
			}
		}
		if cur.IsRoot() {
			return false
		}
		cur = cur.Parent()
	}
}

// Snapshot is the serializable view of a Map: each governing directory's
// raw .qbignore contents, keyed by the directory. Rules themselves are
// not persisted directly since rule is unexported; Restore re-derives
// them from the raw text via Parse.
type Snapshot struct {
	Files map[qbpath.Path]string
}

// Snapshot copies the map's raw ignore file contents out for persistence.
func (m *Map) Snapshot() Snapshot {
	s := Snapshot{Files: make(map[qbpath.Path]string, len(m.files))}
	for dir, f := range m.files {
		s.Files[dir] = f.raw
	}
	return s
}

// Restore replaces the map's contents with a previously taken Snapshot,
// reparsing each directory's raw contents.
func (m *Map) Restore(s Snapshot) {
	m.files = make(map[qbpath.Path]File, len(s.Files))
	for dir, contents := range s.Files {
		m.files[dir] = Parse(dir, contents)
	}
}
