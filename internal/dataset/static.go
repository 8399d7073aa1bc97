package dataset

import (
	"context"
	"sort"
	"time"
)

// Static serves a fixed snapshot of positions. It backs local development
// without a database and the HTTP-level tests.
type Static struct {
	Positions []ShortPosition
}

var _ Producers = (*Static)(nil)

// NewStaticSample returns a Static loaded with a small plausible snapshot.
func NewStaticSample() *Static {
	reported := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	return &Static{Positions: []ShortPosition{
		{ProductCode: "PLS", Name: "Pilbara Minerals", Industry: "Materials", PercentShorted: 19.6, ReportedDate: reported},
		{ProductCode: "SYR", Name: "Syrah Resources", Industry: "Materials", PercentShorted: 15.2, ReportedDate: reported},
		{ProductCode: "IEL", Name: "IDP Education", Industry: "Consumer Services", PercentShorted: 12.8, ReportedDate: reported},
		{ProductCode: "FLT", Name: "Flight Centre", Industry: "Consumer Services", PercentShorted: 10.1, ReportedDate: reported},
		{ProductCode: "DMP", Name: "Domino's Pizza", Industry: "Consumer Discretionary", PercentShorted: 8.4, ReportedDate: reported},
	}}
}

func (s *Static) TopShorted(_ context.Context, limit int) ([]ShortPosition, error) {
	if limit <= 0 || limit > len(s.Positions) {
		limit = len(s.Positions)
	}
	out := make([]ShortPosition, len(s.Positions))
	copy(out, s.Positions)
	sort.Slice(out, func(i, j int) bool { return out[i].PercentShorted > out[j].PercentShorted })
	return out[:limit], nil
}

func (s *Static) IndustryTreemap(context.Context) ([]IndustrySlice, error) {
	type agg struct {
		sum float64
		n   int
	}
	byIndustry := make(map[string]*agg)
	for _, p := range s.Positions {
		a, ok := byIndustry[p.Industry]
		if !ok {
			a = &agg{}
			byIndustry[p.Industry] = a
		}
		a.sum += p.PercentShorted
		a.n++
	}

	out := make([]IndustrySlice, 0, len(byIndustry))
	for industry, a := range byIndustry {
		out = append(out, IndustrySlice{
			Industry:       industry,
			AveragePercent: a.sum / float64(a.n),
			Instruments:    a.n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AveragePercent > out[j].AveragePercent })
	return out, nil
}

func (s *Static) Detail(_ context.Context, productCode string) (*Detail, error) {
	for _, p := range s.Positions {
		if p.ProductCode == productCode {
			return &Detail{
				ShortPosition: p,
				History: []HistoryPoint{
					{Date: p.ReportedDate.AddDate(0, 0, -7), PercentShorted: p.PercentShorted - 0.5},
					{Date: p.ReportedDate, PercentShorted: p.PercentShorted},
				},
			}, nil
		}
	}
	return nil, ErrNotFound
}
