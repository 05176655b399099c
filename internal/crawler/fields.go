package crawler

import (
	"strings"

	"leasesync/internal/model"
)

// Fields holds one extraction rule per scalar listing field. T is whatever a
// backend needs to locate a value: a markup rule, a JSON key path.
type Fields[T any] struct {
	Title        T
	Subtitle     T
	LeasePrice   T
	LeaseTerm    T
	AdNumber     T
	Make         T
	Model        T
	Year         T
	Mileage      T
	Transmission T
	Price        T
	Fuel         T
	VATMargin    T
	Options      T
	Address      T
}

// fill evaluates every rule with get and stores the results on rec
func (f *Fields[T]) fill(rec *model.ListingRecord, get func(T) *string) {
	rec.Title = get(f.Title)
	rec.Subtitle = get(f.Subtitle)
	rec.LeasePrice = get(f.LeasePrice)
	rec.LeaseTerm = get(f.LeaseTerm)
	rec.AdNumber = get(f.AdNumber)
	rec.Make = get(f.Make)
	rec.Model = get(f.Model)
	rec.Year = get(f.Year)
	rec.Mileage = get(f.Mileage)
	rec.Transmission = get(f.Transmission)
	rec.Price = get(f.Price)
	rec.Fuel = get(f.Fuel)
	rec.VATMargin = get(f.VATMargin)
	rec.Options = get(f.Options)
	rec.Address = get(f.Address)
}

// clean collapses runs of whitespace; empty text becomes nil
func clean(s string) *string {
	return model.Str(strings.Join(strings.Fields(s), " "))
}
