package io

import (
	"fmt"

	"despesas-etl/internal/transform"
)

// record builds a normalized record the way the normalizer would.
func record(providerID, date, value, file string) transform.Record {
	return transform.Record{
		ProviderID: providerID,
		Period:     transform.ParsePeriod(date),
		Amount:     transform.ParseAmount(value),
		SourceFile: file,
	}
}

// records builds n distinct records for file.
func records(n int, file string) []transform.Record {
	out := make([]transform.Record, n)
	for i := range out {
		out[i] = record(fmt.Sprintf("%06d", i), "2023-04-15", fmt.Sprintf("%d,50", i), file)
	}
	return out
}
