package plans

import "strings"

// PlanID is the closed set of subscription plans.
type PlanID string

const (
	Free    PlanID = "free"
	Starter PlanID = "starter"
	Growth  PlanID = "growth"
	Scale   PlanID = "scale"
)

// SKU identifies a one-off credit top-up.
type SKU string

const (
	Topup25  SKU = "topup_25"
	Topup100 SKU = "topup_100"
)

// Allotment is the fixed entitlement a plan grants. Subscriptions replace the
// user's entitlement with it; they never add to it.
type Allotment struct {
	Posts        int   `json:"posts"`
	Enhancements int   `json:"enhancements"`
	StorageMB    int64 `json:"storage_mb"`
	AllowVideos  bool  `json:"allow_videos"`
}

// Price is expressed in paise.
type Price struct {
	Monthly int64 `json:"monthly"`
	Yearly  int64 `json:"yearly"`
}

type TopupPack struct {
	Credits int   `json:"credits"`
	Price   int64 `json:"price"`
}

const Currency = "INR"

var allotments = map[PlanID]Allotment{
	Free:    {Posts: 10, Enhancements: 3, StorageMB: 500, AllowVideos: false},
	Starter: {Posts: 50, Enhancements: 25, StorageMB: 5 * 1024, AllowVideos: false},
	Growth:  {Posts: 150, Enhancements: 100, StorageMB: 20 * 1024, AllowVideos: true},
	Scale:   {Posts: 500, Enhancements: 300, StorageMB: 100 * 1024, AllowVideos: true},
}

var prices = map[PlanID]Price{
	Free:    {},
	Starter: {Monthly: 99900, Yearly: 999900},
	Growth:  {Monthly: 249900, Yearly: 2499900},
	Scale:   {Monthly: 599900, Yearly: 5999900},
}

var topups = map[SKU]TopupPack{
	Topup25:  {Credits: 25, Price: 19900},
	Topup100: {Credits: 100, Price: 69900},
}

// ParsePlan normalizes a plan identifier. ok is false for anything outside the catalog.
func ParsePlan(raw string) (PlanID, bool) {
	id := PlanID(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := allotments[id]
	return id, ok
}

// ParseSKU normalizes a top-up identifier.
func ParseSKU(raw string) (SKU, bool) {
	sku := SKU(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := topups[sku]
	return sku, ok
}

// IsTopup reports whether an order's plan id names a top-up SKU.
func IsTopup(raw string) bool {
	_, ok := ParseSKU(raw)
	return ok
}

// IsFree reports whether raw names the free plan.
func IsFree(raw string) bool {
	id, ok := ParsePlan(raw)
	return ok && id == Free
}

// AllotmentFor returns the fixed allotment of a plan. Unknown plans map to a
// zero allotment.
func AllotmentFor(raw string) Allotment {
	id, ok := ParsePlan(raw)
	if !ok {
		return Allotment{}
	}
	return allotments[id]
}

// TopupFor returns the credits a top-up SKU adds.
func TopupFor(raw string) (TopupPack, bool) {
	sku, ok := ParseSKU(raw)
	if !ok {
		return TopupPack{}, false
	}
	return topups[sku], true
}

// BasePrice returns the pre-tax price of a plan or top-up in paise.
func BasePrice(planOrSKU, cycle string) (int64, bool) {
	if pack, ok := TopupFor(planOrSKU); ok {
		return pack.Price, true
	}
	id, ok := ParsePlan(planOrSKU)
	if !ok {
		return 0, false
	}
	p := prices[id]
	switch strings.ToLower(cycle) {
	case "yearly":
		return p.Yearly, true
	case "monthly", "":
		return p.Monthly, true
	default:
		return 0, false
	}
}

// PlanListing is the public view of one subscription plan.
type PlanListing struct {
	ID        PlanID    `json:"id"`
	Allotment Allotment `json:"allotment"`
	Price     Price     `json:"price"`
}

type TopupListing struct {
	SKU SKU `json:"sku"`
	TopupPack
}

type Catalog struct {
	Currency string         `json:"currency"`
	GSTRate  string         `json:"gst_rate"`
	Plans    []PlanListing  `json:"plans"`
	Topups   []TopupListing `json:"topups"`
}

// Listing returns the catalog in display order.
func Listing() Catalog {
	c := Catalog{Currency: Currency, GSTRate: GSTRate.String()}
	for _, id := range []PlanID{Free, Starter, Growth, Scale} {
		c.Plans = append(c.Plans, PlanListing{ID: id, Allotment: allotments[id], Price: prices[id]})
	}
	for _, sku := range []SKU{Topup25, Topup100} {
		c.Topups = append(c.Topups, TopupListing{SKU: sku, TopupPack: topups[sku]})
	}
	return c
}
