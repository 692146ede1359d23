package grounding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumbers(t *testing.T) {
	tests := []struct {
		text string
		want []float64
	}{
		{"I spent 500 on groceries", []float64{500}},
		{"₹1,50,000 in PPF", []float64{150000}},
		{"about 1.5 lakh a year", []float64{150000}},
		{"earn 80k, spend 40K", []float64{80000, 40000}},
		{"a corpus of 2.5 crore", []float64{25000000}},
		{"Rs. 12,500 rebate at 4% cess", []float64{12500, 4}},
		{"walk 20 km", []float64{20}},
		{"no numbers here", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Numbers(tt.text))
		})
	}
}

func TestSet_Contains(t *testing.T) {
	s := NewSet(25845710, 26.37, 320000)

	assert.True(t, s.Contains(25800000), "rounded crore form")
	assert.True(t, s.Contains(26.4))
	assert.True(t, s.Contains(-320000))
	assert.True(t, s.Contains(3), "small counts are free")
	assert.False(t, s.Contains(400000))
	assert.False(t, s.Contains(30))
}

func TestFilter(t *testing.T) {
	allowed := NewSet(320000, 120000)
	text := "Your emergency fund target is ₹3,20,000. You currently hold 1.2 lakh. Markets returned 18% last year! Keep going.\nStep 2: review insurance."

	kept, dropped := Filter(text, allowed)

	assert.Equal(t, "Your emergency fund target is ₹3,20,000. You currently hold 1.2 lakh. Keep going.\nStep 2: review insurance.", kept)
	assert.Equal(t, []string{"Markets returned 18% last year!"}, dropped)
}

func TestFilter_DropsWholeParagraph(t *testing.T) {
	kept, dropped := Filter("You should invest 50,000 monthly.\nStay disciplined.", NewSet())
	assert.Equal(t, "Stay disciplined.", kept)
	assert.Len(t, dropped, 1)
}

func TestSet_AddText(t *testing.T) {
	s := NewSet()
	s.AddText("Section 80C allows up to 1.5 lakh, or 2 lakh with NPS")
	assert.Equal(t, 2, s.Len(), "80C is a section name, not a figure")
	assert.True(t, s.Contains(150000))
	assert.True(t, s.Contains(200000))
}
