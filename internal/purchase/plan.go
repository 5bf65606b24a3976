package purchase

import (
	"fmt"
	"strings"

	"github.com/dukerupert/keyledger/internal/model"
)

// Plan is a purchasable bundle of license keys.
type Plan struct {
	Name       string `json:"name"`
	Keys       int    `json:"keys"`
	PriceCents int64  `json:"price_cents"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
}

var catalog = []Plan{
	{Name: "Basic", Keys: 1, PriceCents: 999, Currency: "USD"},
	{Name: "Pro", Keys: 2, PriceCents: 1999, Currency: "USD"},
	{Name: "Enterprise", Keys: 5, PriceCents: 4999, Currency: "USD"},
}

func init() {
	for i := range catalog {
		catalog[i].Price = model.FormatCents(catalog[i].PriceCents)
	}
}

// Plans returns the catalog in display order.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

// LookupPlan finds a plan by name, ignoring case.
func LookupPlan(name string) (Plan, error) {
	for _, p := range catalog {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %q", model.ErrUnknownPlan, name)
}
