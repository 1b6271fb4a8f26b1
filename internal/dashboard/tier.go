package dashboard

import (
	"sort"

	"marketdash/internal/domain"
)

// CompanyStats is the per-company slice of a sentiment record set.
type CompanyStats struct {
	Company       string           `json:"company"`
	Records       int              `json:"records"`
	AverageImpact float64          `json:"averageImpact"`
	Class         domain.Sentiment `json:"class"`
	Latest        string           `json:"latest"`
}

// ClassGroup holds the companies whose average impact falls in one class.
type ClassGroup struct {
	Name      string         `json:"name"`
	Count     int            `json:"count"`
	Companies []CompanyStats `json:"companies"`
}

var classOrder = []domain.Sentiment{
	domain.SentimentPositive,
	domain.SentimentNeutral,
	domain.SentimentNegative,
}

// GroupCompanies buckets companies by the class of their average impact.
// Groups come out positive, neutral, negative (only non-empty ones), each
// sorted by average impact descending. Records without a company are
// skipped.
func GroupCompanies(records []domain.SentimentRecord) []ClassGroup {
	type acc struct {
		n      int
		sum    float64
		latest domain.SentimentRecord
	}
	byCompany := make(map[string]*acc)
	for _, r := range records {
		if r.Company == "" {
			continue
		}
		a, ok := byCompany[r.Company]
		if !ok {
			a = &acc{latest: r}
			byCompany[r.Company] = a
		}
		a.n++
		a.sum += r.ImpactScore
		if r.OccurredAt.After(a.latest.OccurredAt) {
			a.latest = r
		}
	}

	buckets := make(map[domain.Sentiment][]CompanyStats)
	for company, a := range byCompany {
		avg := a.sum / float64(a.n)
		cls := domain.Classify(avg)
		buckets[cls] = append(buckets[cls], CompanyStats{
			Company:       company,
			Records:       a.n,
			AverageImpact: avg,
			Class:         cls,
			Latest:        a.latest.Label,
		})
	}

	var groups []ClassGroup
	for _, cls := range classOrder {
		cs := buckets[cls]
		if len(cs) == 0 {
			continue
		}
		sort.Slice(cs, func(i, j int) bool {
			if cs[i].AverageImpact != cs[j].AverageImpact {
				return cs[i].AverageImpact > cs[j].AverageImpact
			}
			return cs[i].Company < cs[j].Company
		})
		groups = append(groups, ClassGroup{Name: string(cls), Count: len(cs), Companies: cs})
	}
	return groups
}
