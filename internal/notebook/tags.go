package notebook

import (
	"regexp"
	"slices"
	"strings"
)

// Well-known cell tags.
const (
	TagParameters         = "parameters"
	TagInjectedParameters = "injected-parameters"
	TagCredentials        = "credentials"
	TagUploadReports      = "upload-reports"
	StepTagPrefix         = "step:"
)

// Tags returns metadata.tags as strings.
func (c *Cell) Tags() []string {
	if c.Metadata == nil {
		return nil
	}
	switch v := c.Metadata["tags"].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// HasTag reports whether the cell carries tag.
func (c *Cell) HasTag(tag string) bool {
	return slices.Contains(c.Tags(), tag)
}

// SetTags replaces the tag list; an empty list removes the key.
func (c *Cell) SetTags(tags []string) {
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	if len(tags) == 0 {
		delete(c.Metadata, "tags")
		return
	}
	list := make([]any, len(tags))
	for i, t := range tags {
		list[i] = t
	}
	c.Metadata["tags"] = list
}

// RemoveTag drops every occurrence of tag and reports whether one was present.
func (c *Cell) RemoveTag(tag string) bool {
	tags := c.Tags()
	kept := slices.DeleteFunc(slices.Clone(tags), func(t string) bool { return t == tag })
	if len(kept) == len(tags) {
		return false
	}
	c.SetTags(kept)
	return true
}

// Steps lists the names of "step:" tags in first-seen order without duplicates.
func (d *Document) Steps() []string {
	steps := []string{}
	for _, c := range d.Cells {
		for _, t := range c.Tags() {
			name, ok := strings.CutPrefix(t, StepTagPrefix)
			if !ok || name == "" || slices.Contains(steps, name) {
				continue
			}
			steps = append(steps, name)
		}
	}
	return steps
}

// ParametersCells returns the indices of cells tagged as parameters.
func (d *Document) ParametersCells() []int {
	var idx []int
	for i, c := range d.Cells {
		if c.HasTag(TagParameters) {
			idx = append(idx, i)
		}
	}
	return idx
}

var assignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=[^=]`)

// DeclaredParameters returns the names assigned at top level in the first
// parameters cell, in source order.
func (d *Document) DeclaredParameters() []string {
	idx := d.ParametersCells()
	if len(idx) == 0 {
		return nil
	}
	var names []string
	for _, line := range strings.Split(string(d.Cells[idx[0]].Source), "\n") {
		m := assignment.FindStringSubmatch(line + "\n")
		if m == nil || slices.Contains(names, m[1]) {
			continue
		}
		names = append(names, m[1])
	}
	return names
}
