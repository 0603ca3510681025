package auth

import "testing"

func TestDomesticMobile(t *testing.T) {
	cases := map[string]string{
		"+989121234567":    "09121234567",
		"00989121234567":   "09121234567",
		"989121234567":     "09121234567",
		"09121234567":      "09121234567",
		"9121234567":       "09121234567",
		"+98 912 123 4567": "09121234567",
		"+442071234567":    "+442071234567",
		"":                 "",
	}
	for in, want := range cases {
		if got := DomesticMobile(in); got != want {
			t.Fatalf("DomesticMobile(%q) = %q, want %q", in, got, want)
		}
	}

	identity := &Identity{Phone: "+989351112233"}
	if identity.Mobile() != "09351112233" {
		t.Fatalf("unexpected mobile %q", identity.Mobile())
	}
	var none *Identity
	if none.Mobile() != "" {
		t.Fatal("nil identity must have no mobile")
	}
}
