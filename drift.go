package main

// analyzeDrift diffs the live snapshot against the desired model and
// returns the required changes. The result is deterministic: tables in
// alphabetical order, columns in the model's declared order.
//
// Destructive differences (a live table or column absent from the model)
// become DropTable/DropColumn only when allowDestructive is set; otherwise
// they are demoted to warning-only IgnoredDrift entries so an incomplete
// model cannot cause accidental data loss.
func analyzeDrift(current, desired *Snapshot, d Dialect, allowDestructive bool) []Drift {
	var drifts []Drift

	for _, name := range desired.TableNames() {
		want := desired.Table(name)
		have := current.Table(name)

		if have == nil {
			def := *want
			drifts = append(drifts, Drift{Kind: AddTable, Table: name, TableDef: &def})
			continue
		}

		drifts = append(drifts, diffColumns(have, want, d, allowDestructive)...)
		drifts = append(drifts, diffForeignKeys(have, want)...)
	}

	for _, name := range current.TableNames() {
		if desired.Table(name) != nil {
			continue
		}
		if allowDestructive {
			def := *current.Table(name)
			drifts = append(drifts, Drift{Kind: DropTable, Table: name, TableDef: &def})
		} else {
			drifts = append(drifts, Drift{
				Kind:   IgnoredDrift,
				Table:  name,
				Reason: "table not in model; drop requires --allow-destructive",
			})
		}
	}

	return drifts
}

func diffColumns(have, want *Table, d Dialect, allowDestructive bool) []Drift {
	var drifts []Drift

	for i := range want.Columns {
		wc := &want.Columns[i]
		hc := have.Column(wc.Name)

		if hc == nil {
			col := *wc
			drifts = append(drifts, Drift{Kind: AddColumn, Table: want.Name, Column: &col})
			continue
		}

		if reason := columnChange(hc, wc, d); reason != "" {
			newCol, oldCol := *wc, *hc
			drifts = append(drifts, Drift{
				Kind:   AlterColumn,
				Table:  want.Name,
				Column: &newCol,
				Old:    &oldCol,
				Reason: reason,
			})
		}

		// Uniqueness is tracked as a constraint, separate from the
		// column definition itself.
		if wc.Unique && !hc.Unique {
			col := *wc
			drifts = append(drifts, Drift{Kind: AddConstraint, Table: want.Name, Column: &col})
		} else if !wc.Unique && hc.Unique {
			col := *hc
			drifts = append(drifts, Drift{Kind: DropConstraint, Table: want.Name, Column: &col})
		}
	}

	for i := range have.Columns {
		hc := &have.Columns[i]
		if want.Column(hc.Name) != nil {
			continue
		}
		if allowDestructive {
			col := *hc
			drifts = append(drifts, Drift{Kind: DropColumn, Table: want.Name, Old: &col})
		} else {
			drifts = append(drifts, Drift{
				Kind:   IgnoredDrift,
				Table:  want.Name,
				Old:    hc,
				Reason: "column not in model; drop requires --allow-destructive",
			})
		}
	}

	return drifts
}

// columnChange reports why a live column differs from its model
// counterpart, or "" when they match. Types are compared through the
// dialect's canonical names so driver aliases do not produce false
// positives.
func columnChange(have, want *Column, d Dialect) string {
	if d.CanonicalType(have.Type) != d.CanonicalType(want.Type) {
		return "type " + have.Type + " -> " + want.Type
	}
	if have.Nullable != want.Nullable {
		if want.Nullable {
			return "drop not null"
		}
		return "set not null"
	}
	return ""
}

func diffForeignKeys(have, want *Table) []Drift {
	var drifts []Drift

	for _, fk := range want.ForeignKeys {
		if findForeignKey(have.ForeignKeys, fk) == nil {
			ref := fk
			drifts = append(drifts, Drift{Kind: AddConstraint, Table: want.Name, FK: &ref})
		}
	}
	for _, fk := range have.ForeignKeys {
		if findForeignKey(want.ForeignKeys, fk) == nil {
			ref := fk
			drifts = append(drifts, Drift{Kind: DropConstraint, Table: want.Name, FK: &ref})
		}
	}
	return drifts
}

// findForeignKey matches by structure (column and target), not by name:
// constraint names differ between the model and live catalogs.
func findForeignKey(fks []ForeignKey, fk ForeignKey) *ForeignKey {
	for i := range fks {
		if fks[i].Column == fk.Column && fks[i].RefTable == fk.RefTable && fks[i].RefColumn == fk.RefColumn {
			return &fks[i]
		}
	}
	return nil
}
