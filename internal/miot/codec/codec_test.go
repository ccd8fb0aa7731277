package codec

import (
	"errors"
	"math"
	"testing"
)

// ─── Ratio ─────────────────────────────────────────────────────────

func TestRatioDecode(t *testing.T) {
	tests := []struct {
		name    string
		ratio   Ratio
		wire    any
		want    float64
		wantErr bool
	}{
		{"percent hundredths", 0.01, 4512, 45.12, false},
		{"tenths", 0.1, float64(215), 21.5, false},
		{"identity", 1, int64(7), 7, false},
		{"bool as numeric", 1, true, 1, false},
		{"string is not numeric", 0.01, "45", 0, true},
		{"nil is not numeric", 0.01, nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ratio.Decode(tt.wire)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Decode(%v) = %v, want %v", tt.wire, got, tt.want)
			}
		})
	}
}

func TestRatioRoundTrip(t *testing.T) {
	// Encoding then decoding must recover the original value within the
	// property's step tolerance.
	tests := []struct {
		name  string
		ratio Ratio
		value float64
		step  float64
	}{
		{"hundredths", 0.01, 45.12, 0.01},
		{"tenths", 0.1, 21.5, 0.1},
		{"identity", 1, 300, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := tt.ratio.Encode(tt.value)
			got, err := tt.ratio.Decode(wire)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if math.Abs(got-tt.value) > tt.step {
				t.Errorf("round trip = %v, want %v within %v", got, tt.value, tt.step)
			}
		})
	}
}

func TestRatioEncodeZeroRatio(t *testing.T) {
	if got := Ratio(0).Encode(50); got != 0 {
		t.Errorf("Encode() with zero ratio = %v, want 0", got)
	}
}

// ─── ValueList ─────────────────────────────────────────────────────

func TestValueListRoundTrip(t *testing.T) {
	vl := ValueList{
		{Value: 0, Description: "Auto"},
		{Value: 1, Description: "Sleep"},
		{Value: 2, Description: "Favorite"},
	}

	// decode(encode(description)) == description for every pair.
	for _, item := range vl {
		wire, err := vl.Encode(item.Description)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", item.Description, err)
		}
		got, err := vl.Decode(wire)
		if err != nil {
			t.Fatalf("Decode(%v) error = %v", wire, err)
		}
		if got != item.Description {
			t.Errorf("round trip %q = %q", item.Description, got)
		}
	}
}

func TestValueListDecode(t *testing.T) {
	vl := ValueList{
		{Value: 1, Description: "Low"},
		{Value: 2, Description: "High"},
	}

	tests := []struct {
		name    string
		wire    any
		want    string
		wantErr bool
	}{
		{"int", 1, "Low", false},
		{"float64 from JSON", float64(2), "High", false},
		{"unknown value", 3, "", true},
		{"non numeric", "Low", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := vl.Decode(tt.wire)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Decode(%v) = %q, want %q", tt.wire, got, tt.want)
			}
		})
	}
}

func TestValueListEncodeUnknown(t *testing.T) {
	vl := ValueList{{Value: 0, Description: "Auto"}}
	if _, err := vl.Encode("Turbo"); !errors.Is(err, ErrValueNotFound) {
		t.Errorf("Encode() error = %v, want ErrValueNotFound", err)
	}
}

// ─── ValueRange ────────────────────────────────────────────────────

func TestValueRangeClamp(t *testing.T) {
	vr := ValueRange{Min: 0, Max: 100, Step: 5}

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"below min", -10, 0},
		{"above max", 150, 100},
		{"snap down", 22, 20},
		{"snap up", 23, 25},
		{"exact step", 45, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vr.Clamp(tt.value); got != tt.want {
				t.Errorf("Clamp(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestValueRangeRemap(t *testing.T) {
	vendor := ValueRange{Min: 0, Max: 255, Step: 1}
	percent := ValueRange{Min: 0, Max: 100, Step: 1}

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"min", 0, 0},
		{"max", 255, 100},
		{"mid", 127.5, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vendor.Remap(tt.value, percent); got != tt.want {
				t.Errorf("Remap(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestValueRangeRemapDegenerate(t *testing.T) {
	flat := ValueRange{Min: 5, Max: 5}
	percent := ValueRange{Min: 0, Max: 100}
	if got := flat.Remap(5, percent); got != 0 {
		t.Errorf("Remap() from degenerate range = %v, want 0", got)
	}
}

// ─── PowerValues ───────────────────────────────────────────────────

func TestPowerValuesDecode(t *testing.T) {
	tests := []struct {
		name    string
		pv      PowerValues
		wire    any
		want    bool
		wantErr bool
	}{
		{"bool true", PowerValues{On: true, Off: false}, true, true, false},
		{"bool false", PowerValues{On: true, Off: false}, false, false, false},
		{"numeric on matches float", PowerValues{On: int64(1), Off: int64(0)}, float64(1), true, false},
		{"numeric off matches int", PowerValues{On: 1, Off: 0}, int64(0), false, false},
		{"unknown value", PowerValues{On: true, Off: false}, 2, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.pv.Decode(tt.wire)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Decode(%v) = %v, want %v", tt.wire, got, tt.want)
			}
		})
	}
}

func TestPowerValuesEncode(t *testing.T) {
	pv := PowerValues{On: true, Off: false}
	if got := pv.Encode(true); got != true {
		t.Errorf("Encode(true) = %v", got)
	}
	if got := pv.Encode(false); got != false {
		t.Errorf("Encode(false) = %v", got)
	}
}
