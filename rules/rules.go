// Package rules compiles configured masking rules and RowDescription
// column metadata into a per-column strategy table.
package rules

import "github.com/nwiizo/pgveil/wire"

// MaskingRule binds a column (optionally scoped to a table) to a
// replacement strategy. If Table is empty the rule matches any column of
// that name.
type MaskingRule struct {
	Table    string `yaml:"table,omitempty" json:"table,omitempty"`
	Column   string `yaml:"column" json:"column"`
	Strategy string `yaml:"strategy" json:"strategy"`
}

// ColumnStrategyTable maps a 0-based column index within the current
// RowDescription to a strategy name. Rebuilt on each RowDescription.
type ColumnStrategyTable map[int]string

// Lookup returns the strategy bound to col, if any.
func (t ColumnStrategyTable) Lookup(col int) (string, bool) {
	s, ok := t[col]
	return s, ok
}

// TableNames resolves a table OID to a table name. It is satisfied by the
// schema package's cache; a nil TableNames (or a failed lookup) means
// table-scoped rules degrade to matching unconditionally.
type TableNames interface {
	Name(oid uint32) (string, bool)
}

// Resolve walks fields in order and, for each, searches rules in order
// for the first whose Column matches the field name and whose Table (if
// set) matches the field's resolved table name. Evaluation stops at the
// first matching rule per column; rules are never composed. The returned
// field count is len(fields), for callers that need to bind a later
// DataRow's cell count back to this RowDescription.
func Resolve(fields []wire.FieldDescription, ruleList []MaskingRule, tables TableNames) (ColumnStrategyTable, int) {
	table := make(ColumnStrategyTable)
	for i, field := range fields {
		for _, rule := range ruleList {
			if rule.Column != field.Name {
				continue
			}
			if !tableMatches(rule.Table, field.TableOID, tables) {
				continue
			}
			table[i] = rule.Strategy
			break
		}
	}
	return table, len(fields)
}

// tableMatches reports whether a rule's table scope applies to a field's
// table OID. An empty rule.Table always matches (global rule). When a
// TableNames resolver is available and resolves the OID, the rule only
// matches an equal name. When no resolver is available, or the OID
// cannot be resolved, the rule matches unconditionally.
func tableMatches(ruleTable string, tableOID uint32, tables TableNames) bool {
	if ruleTable == "" {
		return true
	}
	if tables == nil {
		return true
	}
	name, ok := tables.Name(tableOID)
	if !ok {
		return true
	}
	return name == ruleTable
}
