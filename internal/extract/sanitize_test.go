package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddressSanitizerRepairsMisSegmentedStreet(t *testing.T) {
	s, ok := Sanitizers("address")
	if !ok {
		t.Fatal("address sanitizer not registered")
	}
	fullText := "residente ad Acqui Terme in via Chiabrera 20, cap 15011 Italia"
	fields := map[string]string{"street": "ad Acqui Terme in via Chiabrera 20"}

	got := s.Sanitize(fields, fullText)
	want := map[string]string{
		"street":      "Via Chiabrera",
		"number":      "20",
		"city":        "Acqui Terme",
		"postal_code": "15011",
		"country":     "Italy",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sanitized fields mismatch (-want +got):\n%s", diff)
	}
}

func TestAddressSanitizerIdempotent(t *testing.T) {
	s, _ := Sanitizers("address")
	cases := []struct {
		fields map[string]string
		text   string
	}{
		{map[string]string{"street": "ad Acqui Terme in via Chiabrera 20"},
			"residente ad Acqui Terme in via Chiabrera 20, cap 15011 Italia"},
		{map[string]string{"street": "corso Umberto 15"},
			"abito in corso Umberto 15 a Napoli"},
		{map[string]string{"street": "cap 15011"},
			"via Roma 3, cap 15011"},
		{map[string]string{"street": "via Roma 15 16033"},
			"abito in via Roma 15 16033"},
		{map[string]string{"street": "Via Garibaldi", "number": "7", "city": "Torino"},
			"Via Garibaldi 7, Torino"},
	}
	for _, tc := range cases {
		once := s.Sanitize(tc.fields, tc.text)
		twice := s.Sanitize(once, tc.text)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("sanitizer not idempotent for %v (-once +twice):\n%s", tc.fields, diff)
		}
	}
}

func TestAddressSanitizerRederivesStreetFromStrayPostalMarker(t *testing.T) {
	s, _ := Sanitizers("address")
	got := s.Sanitize(map[string]string{"street": "cap 15011"}, "abito in via Roma 3, cap 15011")
	if got["street"] != "Via Roma" {
		t.Errorf("street = %q, want Via Roma", got["street"])
	}
	if got["postal_code"] != "15011" {
		t.Errorf("postal_code = %q", got["postal_code"])
	}
	if _, ok := got["number"]; ok {
		t.Errorf("postal token misread as house number: %v", got)
	}
}

func TestAddressSanitizerSplitsNumberAheadOfPostalToken(t *testing.T) {
	// Street line ends "house-number postal-code": the postal strip exposes
	// the house number, which must be separated in the same pass.
	s, _ := Sanitizers("address")
	got := s.Sanitize(map[string]string{"street": "via Roma 15 16033"}, "abito in via Roma 15 16033")
	want := map[string]string{
		"street":      "Via Roma",
		"number":      "15",
		"postal_code": "16033",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sanitized fields mismatch (-want +got):\n%s", diff)
	}
}

func TestAddressSanitizerNeverInventsFields(t *testing.T) {
	s, _ := Sanitizers("address")
	got := s.Sanitize(map[string]string{"street": "via Dante"}, "via Dante")
	if _, ok := got["city"]; ok {
		t.Errorf("city invented: %v", got)
	}
	if _, ok := got["number"]; ok {
		t.Errorf("number invented: %v", got)
	}
	if _, ok := got["country"]; ok {
		t.Errorf("country invented: %v", got)
	}
}

func TestAddressSanitizerDoesNotMutateInput(t *testing.T) {
	s, _ := Sanitizers("address")
	in := map[string]string{"street": "ad Acqui Terme in via Chiabrera 20"}
	s.Sanitize(in, "residente ad Acqui Terme in via Chiabrera 20")
	if in["street"] != "ad Acqui Terme in via Chiabrera 20" {
		t.Errorf("input mutated: %v", in)
	}
}

func TestPhoneSanitizer(t *testing.T) {
	s, ok := Sanitizers("phone")
	if !ok {
		t.Fatal("phone sanitizer not registered")
	}
	got := s.Sanitize(map[string]string{"number": "+39 393.920-8239"}, "")
	if got["number"] != "+393939208239" {
		t.Errorf("number = %q", got["number"])
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"393 920 8239":    "3939208239",
		"+39 393 9208239": "+393939208239",
		"39+39":           "3939",
		" 02.1234.567 ":   "021234567",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnknownSanitizerName(t *testing.T) {
	if _, ok := Sanitizers("geo"); ok {
		t.Error("unknown sanitizer name resolved")
	}
}

func TestTitleCaseIdempotent(t *testing.T) {
	for _, s := range []string{"acqui terme", "VIA CHIABRERA", "Acqui Terme"} {
		once := titleCase(s)
		if titleCase(once) != once {
			t.Errorf("titleCase not idempotent on %q", s)
		}
	}
}
