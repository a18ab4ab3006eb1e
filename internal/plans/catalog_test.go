package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		in   string
		want PlanID
		ok   bool
	}{
		{in: "free", want: Free, ok: true},
		{in: " Growth ", want: Growth, ok: true},
		{in: "SCALE", want: Scale, ok: true},
		{in: "enterprise", want: PlanID("enterprise"), ok: false},
	}

	for _, tt := range tests {
		got, ok := ParsePlan(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestAllotmentForUnknownPlanIsZero(t *testing.T) {
	assert.Equal(t, Allotment{}, AllotmentFor("enterprise"))
	assert.Equal(t, 100, AllotmentFor("growth").Enhancements)
}

func TestTopupAndFreeDetection(t *testing.T) {
	assert.True(t, IsTopup("topup_25"))
	assert.False(t, IsTopup("growth"))
	assert.True(t, IsFree("free"))
	assert.False(t, IsFree("starter"))

	pack, ok := TopupFor("topup_25")
	assert.True(t, ok)
	assert.Equal(t, 25, pack.Credits)
}

func TestBasePrice(t *testing.T) {
	p, ok := BasePrice("starter", "monthly")
	assert.True(t, ok)
	assert.Equal(t, int64(99900), p)

	p, ok = BasePrice("starter", "yearly")
	assert.True(t, ok)
	assert.Equal(t, int64(999900), p)

	p, ok = BasePrice("topup_100", "")
	assert.True(t, ok)
	assert.Equal(t, int64(69900), p)

	_, ok = BasePrice("starter", "weekly")
	assert.False(t, ok)
}

func TestGST(t *testing.T) {
	assert.Equal(t, int64(180), GST(999))
	assert.Equal(t, int64(17982), GST(99900))
	assert.Equal(t, int64(0), GST(0))
	// 0.18 * 25 = 4.5 rounds away from zero
	assert.Equal(t, int64(5), GST(25))
}

func TestSplitGross(t *testing.T) {
	base, tax := SplitGross(117882)
	assert.Equal(t, int64(99900), base)
	assert.Equal(t, int64(17982), tax)

	base, tax = SplitGross(0)
	assert.Zero(t, base)
	assert.Zero(t, tax)
}

func TestListing(t *testing.T) {
	c := Listing()
	assert.Equal(t, "INR", c.Currency)
	assert.Equal(t, "0.18", c.GSTRate)
	assert.Len(t, c.Plans, 4)
	assert.Equal(t, Free, c.Plans[0].ID)
	assert.Equal(t, int64(249900), c.Plans[2].Price.Monthly)
	assert.Len(t, c.Topups, 2)
	assert.Equal(t, 100, c.Topups[1].Credits)
}
