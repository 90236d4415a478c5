// Package anonymize orchestrates the frame codec, rule resolver, PII
// scanner, and faker into per-direction interception: a RowDescription
// rebuilds the column strategy table, a DataRow rewrites non-NULL cells
// accordingly, and everything else passes through verbatim.
package anonymize

import (
	"fmt"

	"github.com/nwiizo/pgveil/faker"
	"github.com/nwiizo/pgveil/pii"
	"github.com/nwiizo/pgveil/rules"
	"github.com/nwiizo/pgveil/wire"
)

// Interceptor is the capability set a direction's pipeline drives
// against. Anonymizer and PassThrough are the two implementations: one
// rewrites PII, the other only observes.
type Interceptor interface {
	OnRowDescription(msg *wire.RowDescription)
	OnDataRow(msg *wire.DataRow) (*wire.DataRow, error)
}

// PassThrough never rewrites anything. Used for the client→server
// direction, where traffic flows through the codec untouched so future
// features can hook it without adding a second code path.
type PassThrough struct{}

func (PassThrough) OnRowDescription(*wire.RowDescription)                     {}
func (PassThrough) OnDataRow(msg *wire.DataRow) (*wire.DataRow, error) { return msg, nil }

// MaskedCellCounter is incremented once per cell actually rewritten;
// satisfied by metrics.Registry.
type MaskedCellCounter interface {
	AddMaskedCells(n int64)
}

// noopCounter discards counts; used when Anonymizer is built without a
// metrics registry (e.g. in unit tests).
type noopCounter struct{}

func (noopCounter) AddMaskedCells(int64) {}

// Anonymizer is the PII-rewriting Interceptor: rule resolver output wins
// over the content heuristic, which wins over leaving a cell untouched.
type Anonymizer struct {
	ruleList []rules.MaskingRule
	tables   rules.TableNames
	scanner  *pii.Scanner
	counter  MaskedCellCounter

	strategies rules.ColumnStrategyTable
	fieldCount int // field count of the last bound RowDescription
}

// New creates an Anonymizer. tables may be nil, in which case
// table-scoped rules match unconditionally. counter may be nil.
func New(ruleList []rules.MaskingRule, tables rules.TableNames, counter MaskedCellCounter) *Anonymizer {
	if counter == nil {
		counter = noopCounter{}
	}
	return &Anonymizer{
		ruleList: ruleList,
		tables:   tables,
		scanner:  pii.New(),
		counter:  counter,
	}
}

// OnRowDescription rebuilds the column strategy table for the fields in
// msg. The RowDescription itself is re-emitted verbatim by the caller;
// this only updates interception state.
func (a *Anonymizer) OnRowDescription(msg *wire.RowDescription) {
	a.strategies, a.fieldCount = rules.Resolve(msg.Fields, a.ruleList, a.tables)
}

// OnDataRow rewrites each non-NULL cell whose column is bound by a rule
// or matches a PII heuristic, in place, and returns msg. NULL cells are
// never touched. A DataRow that arrives with no RowDescription ever
// bound, or whose cell count doesn't match the last bound
// RowDescription's field count, is a protocol violation; the caller
// should treat the returned error as connection-fatal.
func (a *Anonymizer) OnDataRow(msg *wire.DataRow) (*wire.DataRow, error) {
	if a.strategies == nil {
		return nil, fmt.Errorf("%w: data row with no bound row description", wire.ErrProtocolViolation)
	}
	if len(msg.Cells) != a.fieldCount {
		return nil, fmt.Errorf("%w: data row has %d cells, row description bound %d", wire.ErrProtocolViolation, len(msg.Cells), a.fieldCount)
	}

	masked := int64(0)
	for i, cell := range msg.Cells {
		if cell.Null {
			continue
		}

		strategyName, explicit := a.strategies.Lookup(i)
		if !explicit {
			switch a.scanner.Scan(cell.Data) {
			case pii.Email:
				strategyName = string(faker.Email)
			case pii.CreditCard:
				strategyName = string(faker.CreditCard)
			default:
				continue
			}
		}

		strategy := faker.NormalizeStrategy(strategyName)
		msg.Cells[i] = wire.Cell{Data: faker.Mask(cell.Data, strategy)}
		masked++
	}
	if masked > 0 {
		a.counter.AddMaskedCells(masked)
	}
	return msg, nil
}
