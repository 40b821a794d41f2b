package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/geoload/internal/core"
	"github.com/JonMunkholm/geoload/internal/store"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

const wrapWidth = 76

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printReport writes a load report as JSON or as an aligned summary.
func printReport(w io.Writer, rep *core.LoadReport, asJSON bool) {
	if asJSON {
		printJSON(w, rep)
		return
	}

	status := "OK"
	if !rep.Success {
		status = "FAILED"
	}
	fmt.Fprintf(w, "%s  %s -> %s\n", status, rep.Source, rep.Table)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label string, v any) { fmt.Fprintf(tw, "  %s\t%v\n", label, v) }

	if rep.LoadID != "" {
		row("load id", rep.LoadID)
	}
	if rep.Mode != "" {
		row("mode", rep.Mode)
	}
	if rep.SourceSRID != 0 || rep.SRID != 0 {
		row("crs", fmt.Sprintf("EPSG:%d -> EPSG:%d (%s)", rep.SourceSRID, rep.SRID, rep.CRSAction))
	}
	if rep.Read > 0 {
		row("read", rep.Read)
		row("inserted", rep.Inserted)
		if rep.Retried > 0 {
			row("retried", rep.Retried)
		}
		if rep.Duplicates > 0 {
			row("duplicates", rep.Duplicates)
		}
		if rep.Skipped > 0 {
			row("skipped", rep.Skipped)
		}
		row("repaired", rep.Repaired)
		if rep.Invalid > 0 {
			row("still invalid", rep.Invalid)
		}
		if rep.Dropped > 0 {
			row("dropped invalid", rep.Dropped)
		}
		if rep.EmptyRemoved+rep.NullRemoved > 0 {
			row("removed empty/null", fmt.Sprintf("%d/%d", rep.EmptyRemoved, rep.NullRemoved))
		}
		if rep.Coerced > 0 {
			row("coerced to multi", rep.Coerced)
		}
	}
	if rep.CommuneField != "" {
		row("commune field", rep.CommuneField)
	}
	if rep.TableCreated {
		row("table", "created")
	}
	if len(rep.DroppedAttributes) > 0 {
		row("dropped attributes", strings.Join(rep.DroppedAttributes, ", "))
	}
	if rep.Success {
		row("verified", rep.Verified)
	}
	if rep.DurationMS > 0 {
		row("duration", fmt.Sprintf("%dms", rep.DurationMS))
	}
	tw.Flush()

	for _, s := range rep.SkippedRows {
		fmt.Fprintf(w, "  row %d skipped: %s\n", s.Index, s.Reason)
	}

	if rep.User != nil {
		msg := fmt.Sprintf("%s (Code: %s). %s", rep.User.Message, rep.User.Code, rep.User.Action)
		fmt.Fprintln(w, indent.String(wordwrap.String(msg, wrapWidth), 2))
		fmt.Fprintln(w, indent.String(wordwrap.String(rep.Error, wrapWidth), 4))
	}
}

func printStats(w io.Writer, stats []store.CommuneStat) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "commune\tcount\ttotal area\tavg area\tmin area\tmax area\tperimeter\thectares\t")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.4f\t\n",
			s.Commune, s.Count, s.TotalArea, s.AvgArea, s.MinArea, s.MaxArea, s.TotalPerimeter, s.Hectares)
	}
	tw.Flush()
}

func printValidation(w io.Writer, res *ValidationResult, asJSON bool) {
	if asJSON {
		printJSON(w, res)
		return
	}

	src := res.Source
	fmt.Fprintf(w, "%s (%s)\n", src.Path, src.Format)
	fmt.Fprintf(w, "  files: %s\n", strings.Join(src.Present, ", "))
	if len(src.Missing) > 0 {
		fmt.Fprintf(w, "  missing: %s\n", strings.Join(src.Missing, ", "))
	}
	if len(src.Optional) > 0 {
		fmt.Fprintf(w, "  optional, absent: %s\n", strings.Join(src.Optional, ", "))
	}
	if res.Stats.Features == 0 && res.SourceSRID == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  features\t%d\n", res.Stats.Features)
	fmt.Fprintf(tw, "  crs\tEPSG:%d -> EPSG:%d (%s)\n", res.SourceSRID, res.Stats.SRID, res.CRSAction)
	if res.Commune != "" {
		fmt.Fprintf(tw, "  commune field\t%s\n", res.Commune)
	}

	types := make([]string, 0, len(res.Stats.Types))
	for t, n := range res.Stats.Types {
		types = append(types, fmt.Sprintf("%s=%d", t, n))
	}
	sort.Strings(types)
	fmt.Fprintf(tw, "  types\t%s\n", strings.Join(types, " "))

	r := res.Repair
	fmt.Fprintf(tw, "  invalid\t%d (buffer %d, make-valid %d, unrepairable %d)\n",
		r.Invalid, r.RepairedByBuffer, r.RepairedByMakeValid, r.Unrepairable)
	fmt.Fprintf(tw, "  removed empty/null\t%d/%d\n", r.EmptyRemoved, r.NullRemoved)
	fmt.Fprintf(tw, "  coerced to multi\t%d\n", res.Coerced)
	if b := res.Stats.Bounds; b != nil {
		fmt.Fprintf(tw, "  bounds\t[%g %g, %g %g]\n", b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	}
	if a := res.Stats.Area; a != nil {
		fmt.Fprintf(tw, "  area\ttotal %.2f mean %.2f min %.2f max %.2f\n", a.Total, a.Mean, a.Min, a.Max)
	}
	if l := res.Stats.Length; l != nil {
		fmt.Fprintf(tw, "  length\ttotal %.2f mean %.2f min %.2f max %.2f\n", l.Total, l.Mean, l.Min, l.Max)
	}
	tw.Flush()
}

// writeFile creates path and hands it to write.
func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return userExit(err)
	}
	if err := write(f); err != nil {
		f.Close()
		return userExit(err)
	}
	if err := f.Close(); err != nil {
		return userExit(err)
	}
	return nil
}

func writeGeoJSON(w io.Writer, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeFeaturesCSV writes one row per feature: the union of the property
// names, sorted, then the geometry as WKT.
func writeFeaturesCSV(w io.Writer, fc *geojson.FeatureCollection) error {
	seen := make(map[string]bool)
	var cols []string
	for _, f := range fc.Features {
		for k := range f.Properties {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, cols...), "geometry")); err != nil {
		return err
	}
	for _, f := range fc.Features {
		rec := make([]string, 0, len(cols)+1)
		for _, k := range cols {
			rec = append(rec, csvValue(f.Properties[k]))
		}
		geom := ""
		if f.Geometry != nil {
			geom = wkt.MarshalString(f.Geometry)
		}
		if err := cw.Write(append(rec, geom)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeStatsCSV(w io.Writer, stats []store.CommuneStat) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"commune", "count", "total_area", "avg_area", "min_area", "max_area", "total_perimeter", "hectares"})
	for _, s := range stats {
		_ = cw.Write([]string{
			s.Commune,
			strconv.FormatInt(s.Count, 10),
			strconv.FormatFloat(s.TotalArea, 'f', -1, 64),
			strconv.FormatFloat(s.AvgArea, 'f', -1, 64),
			strconv.FormatFloat(s.MinArea, 'f', -1, 64),
			strconv.FormatFloat(s.MaxArea, 'f', -1, 64),
			strconv.FormatFloat(s.TotalPerimeter, 'f', -1, 64),
			strconv.FormatFloat(s.Hectares, 'f', -1, 64),
		})
	}
	cw.Flush()
	return cw.Error()
}

func csvValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
