package flow

import "testing"

func TestPropertyFormSummary(t *testing.T) {
	tests := []struct {
		name string
		form PropertyForm
		want string
	}{
		{
			name: "all fields",
			form: PropertyForm{
				Location:  "Lahug, Cebu City",
				Type:      "Condominium",
				Price:     "₱8,500,000",
				Amenities: "Pool, Gym",
				Notes:     "Corner unit",
			},
			want: "[PROPERTY]\n" +
				"Location: Lahug, Cebu City\n" +
				"Type: Condominium\n" +
				"Price: ₱8,500,000\n" +
				"Amenities: Pool, Gym\n" +
				"Notes: Corner unit\n" +
				"[/PROPERTY]",
		},
		{
			name: "blank amenities and notes omitted",
			form: PropertyForm{
				Location:  "Mandaue",
				Type:      "House and Lot",
				Price:     "₱12,000,000",
				Amenities: "   ",
			},
			want: "[PROPERTY]\n" +
				"Location: Mandaue\n" +
				"Type: House and Lot\n" +
				"Price: ₱12,000,000\n" +
				"[/PROPERTY]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.form.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}
