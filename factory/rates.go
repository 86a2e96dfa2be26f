/*
Package factory provides YAML/JSON to Go rate-table conversion.

PURPOSE:
  Converts rate-table documents into payroll.RateTableInput values that
  RateConfigStore.ImportTable applies atomically. Finance can maintain
  the yearly tax tables in a file under version control and load them at
  startup (-rates flag) or through POST /api/rates/import.

FILE FORMAT (YAML, JSON is accepted as well):
  tables:
    - country: X
      effective_date: "2024-01-01"
      brackets:
        - {min: 0,     max: 15000, rate: 15}
        - {min: 15000, max: 30000, rate: 20}
        - {min: 30000,             rate: 25}   # no max: open-ended
      social_security:
        employee_rate: 7.5
        employer_rate: 12
        max_base: 50000

  Amounts and rates are parsed straight into decimal.Decimal from their
  literal text, so 0.1 stays exactly 0.1. Rates are percentages.

KEY FEATURES:
  - Rejects unknown keys (typos in a tax table must not pass silently)
  - Reports the failing path, e.g. tables[0].brackets[2].rate
  - Shape validation (overlaps, gaps) is left to ImportTable

USAGE:
  inputs, err := factory.LoadRateFile("rates.yaml")
  for _, in := range inputs {
      _, err := rates.ImportTable(ctx, in)
  }

SEE ALSO:
  - payroll/rates.go: ImportTable
  - api/scenarios.go: Demo tables written in this format
*/
package factory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// RateFile is the document root.
type RateFile struct {
	Tables []RateTableDoc `yaml:"tables"`
}

// RateTableDoc is one country/effective-date table.
type RateTableDoc struct {
	Country        string             `yaml:"country"`
	EffectiveDate  string             `yaml:"effective_date"`
	Brackets       []BracketDoc       `yaml:"brackets"`
	SocialSecurity *SocialSecurityDoc `yaml:"social_security,omitempty"`
}

// BracketDoc is one bracket. A missing or null max is open-ended.
type BracketDoc struct {
	Min  Amount  `yaml:"min"`
	Max  *Amount `yaml:"max,omitempty"`
	Rate Amount  `yaml:"rate"`
}

type SocialSecurityDoc struct {
	EmployeeRate Amount `yaml:"employee_rate"`
	EmployerRate Amount `yaml:"employer_rate"`
	MaxBase      Amount `yaml:"max_base"`
}

// Amount is a decimal that decodes from a YAML scalar's literal text.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %q is not a decimal number", node.Line, node.Value)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: a.String()}
	if a.IsInteger() {
		node.Tag = "!!int"
	}
	return node, nil
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRateFile decodes a rate document into import inputs.
func ParseRateFile(data []byte) ([]payroll.RateTableInput, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc RateFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &payroll.ValidationError{Code: payroll.CodeInvalidField, Field: "tables", Message: "rate document is empty"}
		}
		return nil, &payroll.ValidationError{Code: payroll.CodeInvalidField, Message: fmt.Sprintf("invalid rate document: %v", err)}
	}
	if len(doc.Tables) == 0 {
		return nil, &payroll.ValidationError{Code: payroll.CodeInvalidField, Field: "tables", Message: "rate document has no tables"}
	}

	inputs := make([]payroll.RateTableInput, 0, len(doc.Tables))
	for i, t := range doc.Tables {
		if len(t.Brackets) == 0 {
			return nil, &payroll.ValidationError{
				Code:    payroll.CodeInvalidField,
				Field:   fmt.Sprintf("tables[%d].brackets", i),
				Message: fmt.Sprintf("table %s %s has no brackets", t.Country, t.EffectiveDate),
			}
		}
		inputs = append(inputs, t.Input())
	}
	return inputs, nil
}

// LoadRateFile reads and parses a rate document from disk.
func LoadRateFile(path string) ([]payroll.RateTableInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate file: %w", err)
	}
	inputs, err := ParseRateFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inputs, nil
}

// Input converts the document table into an import request.
func (t RateTableDoc) Input() payroll.RateTableInput {
	in := payroll.RateTableInput{
		Country:       t.Country,
		EffectiveDate: t.EffectiveDate,
		Brackets:      make([]payroll.BracketInput, 0, len(t.Brackets)),
	}
	for _, b := range t.Brackets {
		bi := payroll.BracketInput{MinAmount: b.Min.Decimal, Rate: b.Rate.Decimal}
		if b.Max != nil {
			max := b.Max.Decimal
			bi.MaxAmount = &max
		}
		in.Brackets = append(in.Brackets, bi)
	}
	if ss := t.SocialSecurity; ss != nil {
		in.SocialSecurity = &payroll.SocialSecurityInput{
			EmployeeRate: ss.EmployeeRate.Decimal,
			EmployerRate: ss.EmployerRate.Decimal,
			MaxBase:      ss.MaxBase.Decimal,
		}
	}
	return in
}

// =============================================================================
// RENDERING
// =============================================================================

// RenderRateFile writes stored tables back out in the file format.
func RenderRateFile(tables []payroll.RateTable) ([]byte, error) {
	doc := RateFile{Tables: make([]RateTableDoc, 0, len(tables))}
	for _, t := range tables {
		td := RateTableDoc{
			Country:       t.Country,
			EffectiveDate: t.EffectiveDate.Format(payroll.DateLayout),
		}
		for _, b := range t.Brackets {
			bd := BracketDoc{Min: Amount{b.MinAmount}, Rate: Amount{b.Rate}}
			if b.MaxAmount != nil {
				bd.Max = &Amount{*b.MaxAmount}
			}
			td.Brackets = append(td.Brackets, bd)
		}
		if ss := t.SocialSecurity; ss.ID != "" {
			td.SocialSecurity = &SocialSecurityDoc{
				EmployeeRate: Amount{ss.EmployeeRate},
				EmployerRate: Amount{ss.EmployerRate},
				MaxBase:      Amount{ss.MaxBase},
			}
		}
		doc.Tables = append(doc.Tables, td)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode rate file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
