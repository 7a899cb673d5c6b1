package calib

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"calibprep/internal/logging"
	"calibprep/internal/probe"
	"calibprep/internal/table"
)

const estimatedToken = "ESTIMATED"

// Disambiguate replaces every left/right column pair of a two-input table with
// a PROBE_<base> and a BUILD_<base> column. Where the flip column is true the
// probe side is the left input, otherwise the right one. Rows with a missing
// or unreadable flip get missing probe and build values.
//
// Pairs come from cfg.Pairs first. Every other column with the left label as
// a name token defines an attribute base (the name without that token). Its
// right counterpart is found in two rounds:
//
//  1. columns whose own base is identical
//  2. columns that contain the base, or every token of it
//
// Estimated and measured columns are never paired with each other. An
// attribute that does not resolve to exactly one left and one right column
// fails with *AmbiguousSideMatchError, as does a side-labelled column left
// over without a partner.
//
// The pair columns and the flip column are dropped. A pair of differing kinds
// yields string columns.
func Disambiguate(t *table.Table, cfg SideConfig, logger *slog.Logger) (*table.Table, error) {
	cfg = cfg.withDefaults()
	logger = logging.OrDiscard(logger)

	if !t.Has(cfg.FlipColumn) {
		return nil, fmt.Errorf("disambiguate: flip column %s missing", cfg.FlipColumn)
	}
	flips := make([]int8, t.NumRows()) // 1 left is probe, 0 right is probe, -1 unknown
	for i := range flips {
		v := t.At(cfg.FlipColumn, i)
		b, ok := probe.Truthy(v)
		switch {
		case !ok || (v.Kind == table.KindNumber && !v.Finite()):
			flips[i] = -1
		case b:
			flips[i] = 1
		}
	}

	type pair struct {
		base        string
		left, right string
	}
	var pairs []pair
	used := map[string]bool{cfg.FlipColumn: true}

	bases := make([]string, 0, len(cfg.Pairs))
	for b := range cfg.Pairs {
		bases = append(bases, b)
	}
	slices.Sort(bases)
	for _, b := range bases {
		p := cfg.Pairs[b]
		for _, c := range []string{p.Left, p.Right} {
			if !t.Has(c) {
				return nil, fmt.Errorf("disambiguate: side pair %s: column %q missing", b, c)
			}
			if used[c] {
				return nil, fmt.Errorf("disambiguate: side pair %s: column %q already paired", b, c)
			}
			used[c] = true
		}
		pairs = append(pairs, pair{base: b, left: p.Left, right: p.Right})
	}

	names := t.Names()
	for _, n := range names {
		if used[n] || !hasToken(n, cfg.LeftLabel) {
			continue
		}
		base := stripLabel(n, cfg.LeftLabel)
		if base == "" {
			return nil, &AmbiguousSideMatchError{Base: n, Left: []string{n}}
		}
		if _, explicit := cfg.Pairs[base]; explicit {
			continue
		}
		left, right := matchSides(names, base, cfg, used)
		if len(left) != 1 || len(right) != 1 {
			return nil, &AmbiguousSideMatchError{Base: base, Left: left, Right: right}
		}
		used[left[0]] = true
		used[right[0]] = true
		pairs = append(pairs, pair{base: base, left: left[0], right: right[0]})
		logger.Info("side pair matched by name",
			slog.String("base", base),
			slog.String("left", left[0]),
			slog.String("right", right[0]))
	}

	for _, n := range names {
		if used[n] {
			continue
		}
		switch {
		case hasToken(n, cfg.LeftLabel):
			return nil, &AmbiguousSideMatchError{Base: stripLabel(n, cfg.LeftLabel), Left: []string{n}}
		case hasToken(n, cfg.RightLabel):
			return nil, &AmbiguousSideMatchError{Base: stripLabel(n, cfg.RightLabel), Right: []string{n}}
		}
	}

	drop := make([]string, 0, 2*len(pairs)+1)
	drop = append(drop, cfg.FlipColumn)
	for _, p := range pairs {
		drop = append(drop, p.left, p.right)
	}
	out := t.Drop(drop...)

	for _, p := range pairs {
		lk, _ := t.Kind(p.left)
		rk, _ := t.Kind(p.right)
		kind := lk
		if lk != rk {
			kind = table.KindString
		}
		probeVals := make([]table.Value, t.NumRows())
		buildVals := make([]table.Value, t.NumRows())
		for i, f := range flips {
			l := t.At(p.left, i).As(kind)
			r := t.At(p.right, i).As(kind)
			switch f {
			case 1:
				probeVals[i], buildVals[i] = l, r
			case 0:
				probeVals[i], buildVals[i] = r, l
			default:
				probeVals[i], buildVals[i] = table.Null(kind), table.Null(kind)
			}
		}
		for _, c := range []table.Column{
			{Name: cfg.ProbePrefix + p.base, Kind: kind, Values: probeVals},
			{Name: cfg.BuildPrefix + p.base, Kind: kind, Values: buildVals},
		} {
			if out.Has(c.Name) {
				return nil, fmt.Errorf("disambiguate: output column %s already exists", c.Name)
			}
			var err error
			if out, err = out.WithColumn(c); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// matchSides returns the left and right candidates for base among names not
// yet paired.
func matchSides(names []string, base string, cfg SideConfig, used map[string]bool) (left, right []string) {
	split := func(pred func(string) bool) (l, r []string) {
		for _, n := range names {
			if used[n] || !pred(n) {
				continue
			}
			isL, isR := hasToken(n, cfg.LeftLabel), hasToken(n, cfg.RightLabel)
			switch {
			case isL && !isR:
				l = append(l, n)
			case isR && !isL:
				r = append(r, n)
			}
		}
		return l, r
	}

	left, right = split(func(n string) bool {
		return stripLabel(n, cfg.LeftLabel) == base || stripLabel(n, cfg.RightLabel) == base
	})
	if len(left) == 1 && len(right) == 1 {
		return left, right
	}

	est := hasToken(base, estimatedToken)
	baseTokens := tokens(base)
	return split(func(n string) bool {
		if hasToken(n, estimatedToken) != est {
			return false
		}
		if strings.Contains(strings.ToUpper(n), strings.ToUpper(base)) {
			return true
		}
		own := tokens(n)
		for _, bt := range baseTokens {
			if !slices.Contains(own, bt) {
				return false
			}
		}
		return len(baseTokens) > 0
	})
}

// tokens splits a column name on underscores, upper-cased.
func tokens(name string) []string {
	parts := strings.Split(strings.ToUpper(name), "_")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasToken(name, tok string) bool {
	return slices.Contains(tokens(name), strings.ToUpper(tok))
}

// stripLabel removes the first underscore-delimited occurrence of label from
// name together with one adjacent underscore, keeping the case of the rest:
// "INPUT_ROWS_LEFT" → "INPUT_ROWS", "LEFT_TABLE_NAME" → "TABLE_NAME".
func stripLabel(name, label string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if strings.EqualFold(p, label) {
			return strings.Join(append(parts[:i:i], parts[i+1:]...), "_")
		}
	}
	return name
}
