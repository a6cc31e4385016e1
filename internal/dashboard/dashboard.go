package dashboard

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// FilterLimit caps the rows returned by Filter.
const FilterLimit = 500

// DefaultDensityLimit is used when CountyDensity gets a non-positive limit.
const DefaultDensityLimit = 100

var densityColumns = []string{"state_fips", "county_fips", "county_name", "population", "employment_5415", "density_per_1k"}

// Dashboard answers the dashboard queries.
type Dashboard struct {
	records *Dataset
	density *Dataset
}

// New returns a dashboard over the state/county/zip dataset and the county density dataset.
func New(dataFile, densityFile string) *Dashboard {
	return &Dashboard{
		records: NewDataset(dataFile, nil),
		density: NewDataset(densityFile, deriveStateFIPS),
	}
}

// Datasets returns the underlying datasets, for watching.
func (d *Dashboard) Datasets() []*Dataset { return []*Dataset{d.records, d.density} }

// DensityFile returns the county density CSV, served for download.
func (d *Dashboard) DensityFile() *Dataset { return d.density }

// States lists distinct non-empty states, sorted.
func (d *Dashboard) States() ([]string, error) {
	t, err := d.records.Table()
	if err != nil {
		return nil, err
	}
	return distinct(t.Rows, "state", nil), nil
}

// Counties lists distinct counties, optionally within state.
func (d *Dashboard) Counties(state string) ([]string, error) {
	t, err := d.records.Table()
	if err != nil {
		return nil, err
	}
	return distinct(t.Rows, "county", match("state", state)), nil
}

// Zips lists distinct zip codes, optionally within state and county.
func (d *Dashboard) Zips(state, county string) ([]string, error) {
	t, err := d.records.Table()
	if err != nil {
		return nil, err
	}
	keep := all(match("state", state), match("county", county))
	return distinct(t.Rows, "zip", keep), nil
}

// Filter returns up to FilterLimit rows matching every non-empty argument exactly.
func (d *Dashboard) Filter(state, county, zip string) ([]map[string]any, error) {
	t, err := d.records.Table()
	if err != nil {
		return nil, err
	}
	keep := all(match("state", state), match("county", county), match("zip", zip))
	out := []map[string]any{}
	for _, r := range t.Rows {
		if len(out) == FilterLimit {
			break
		}
		if keep(r) {
			out = append(out, typed(r, t.Columns))
		}
	}
	return out, nil
}

// DensityQuery selects rows from the county density dataset.
type DensityQuery struct {
	StateFIPS  string
	CountyFIPS string
	// County matches county_name by caseless substring.
	County string
	Limit  int
}

// CountyDensity returns the density rows selected by q.
func (d *Dashboard) CountyDensity(q DensityQuery) ([]map[string]any, error) {
	t, err := d.density.Table()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultDensityLimit
	}
	cols := slices.DeleteFunc(slices.Clone(densityColumns), func(c string) bool { return !t.Has(c) })

	// A Caser is stateful, so each query gets its own.
	fold := cases.Fold()
	needle := fold.String(q.County)
	keep := all(match("state_fips", q.StateFIPS), match("county_fips", q.CountyFIPS))
	out := []map[string]any{}
	for _, r := range t.Rows {
		if len(out) == limit {
			break
		}
		if !keep(r) {
			continue
		}
		if needle != "" && !strings.Contains(fold.String(r["county_name"]), needle) {
			continue
		}
		out = append(out, typed(r, cols))
	}
	return out, nil
}

// deriveStateFIPS fills state_fips from the first two digits of county_fips when the
// file does not carry it.
func deriveStateFIPS(t *Table) {
	if t.Has("state_fips") || !t.Has("county_fips") {
		return
	}
	t.Columns = append(t.Columns, "state_fips")
	for _, r := range t.Rows {
		fips := r["county_fips"]
		if len(fips) >= 2 {
			r["state_fips"] = fips[:2]
		} else {
			r["state_fips"] = ""
		}
	}
}

type predicate func(Record) bool

func match(column, want string) predicate {
	if want == "" {
		return nil
	}
	return func(r Record) bool { return r[column] == want }
}

func all(ps ...predicate) predicate {
	return func(r Record) bool {
		for _, p := range ps {
			if p != nil && !p(r) {
				return false
			}
		}
		return true
	}
}

func distinct(rows []Record, column string, keep predicate) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, r := range rows {
		if keep != nil && !keep(r) {
			continue
		}
		v := strings.TrimSpace(r[column])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
