// Package catalog assembles the ordered list of instruments for a run.
package catalog

import "strings"

// Instrument is one tracked fund or stock.
type Instrument struct {
	Name string `mapstructure:"name"`
	Key  string `mapstructure:"key"`
}

// DefaultFunds is the built-in NAV catalog.
var DefaultFunds = []Instrument{
	{Name: "JioBlackRock Nifty 50 Index Fund - Direct Growth", Key: "153787"},
	{Name: "JioBlackRock Nifty Next 50 Index Fund - Direct Growth", Key: "153789"},
	{Name: "JioBlackRock Nifty Midcap 150 Index Fund - Direct Growth", Key: "153788"},
	{Name: "JioBlackRock Nifty Smallcap 250 Index Fund - Direct Growth", Key: "153790"},
	{Name: "JioBlackRock Flexi Cap Fund - Direct Growth", Key: "153859"},
	{Name: "Helios Small Cap Fund - Direct Plan - Growth", Key: "153912"},
}

// AdditionalFunds can be opted into by exact display name.
var AdditionalFunds = []Instrument{
	{Name: "Helios Small Cap Fund - Direct Growth", Key: "INF0R8701384"},
}

// Source lists the inputs a catalog is built from.
type Source struct {
	Defaults   []Instrument
	Additional []Instrument
	Selection  []string
	Symbols    []string
}

// Catalog is an ordered, name-unique instrument list.
type Catalog struct {
	items []Instrument
	index map[string]int
}

// Build merges defaults, selected additional instruments and raw symbols.
// Selection names that are not in Additional are ignored. Later declarations
// of a name replace the earlier key but keep its position.
func Build(src Source) Catalog {
	c := Catalog{index: make(map[string]int)}
	for _, inst := range src.Defaults {
		c.put(inst)
	}

	additional := make(map[string]Instrument, len(src.Additional))
	for _, inst := range src.Additional {
		additional[strings.TrimSpace(inst.Name)] = inst
	}
	for _, name := range src.Selection {
		if inst, ok := additional[strings.TrimSpace(name)]; ok {
			c.put(inst)
		}
	}

	for _, sym := range src.Symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		c.put(Instrument{Name: sym, Key: sym})
	}
	return c
}

// New builds a catalog from an explicit list.
func New(items ...Instrument) Catalog {
	return Build(Source{Defaults: items})
}

func (c *Catalog) put(inst Instrument) {
	inst.Name = strings.TrimSpace(inst.Name)
	inst.Key = strings.TrimSpace(inst.Key)
	if inst.Name == "" || inst.Key == "" {
		return
	}
	if i, ok := c.index[inst.Name]; ok {
		c.items[i] = inst
		return
	}
	c.index[inst.Name] = len(c.items)
	c.items = append(c.items, inst)
}

// Instruments returns the instruments in catalog order.
func (c Catalog) Instruments() []Instrument {
	return append([]Instrument(nil), c.items...)
}

// Len reports the number of instruments.
func (c Catalog) Len() int {
	return len(c.items)
}

// Lookup finds an instrument by display name.
func (c Catalog) Lookup(name string) (Instrument, bool) {
	i, ok := c.index[strings.TrimSpace(name)]
	if !ok {
		return Instrument{}, false
	}
	return c.items[i], true
}

// Contains reports whether name is part of the catalog.
func (c Catalog) Contains(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}
