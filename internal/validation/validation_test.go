package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidEthAddress(t *testing.T) {
	valid := []string{
		"0xaaaa000000000000000000000000000000000001",
		"0xABCDEF0123456789abcdef0123456789ABCDEF01",
	}
	for _, addr := range valid {
		if !IsValidEthAddress(addr) {
			t.Errorf("Expected %s to be valid", addr)
		}
	}

	invalid := []string{
		"",
		"0x123",
		"aaaa000000000000000000000000000000000001",
		"0xZZZZ000000000000000000000000000000000001",
		"0xaaaa0000000000000000000000000000000000011",
	}
	for _, addr := range invalid {
		if IsValidEthAddress(addr) {
			t.Errorf("Expected %s to be invalid", addr)
		}
	}
}

func TestSanitizeAddress(t *testing.T) {
	if got := SanitizeAddress("  0xABCdef0123456789abcdef0123456789ABCDEF01 "); got != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Errorf("Expected lowercased trimmed address, got %s", got)
	}
	// Bare 40-hex gets the 0x prefix
	if got := SanitizeAddress("abcdef0123456789abcdef0123456789abcdef01"); !strings.HasPrefix(got, "0x") {
		t.Errorf("Expected 0x prefix added, got %s", got)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("Expected null bytes and whitespace stripped, got %q", got)
	}
	if got := SanitizeString("abcdefgh", 3); got != "abc" {
		t.Errorf("Expected truncation to 3, got %q", got)
	}
}

func TestValidDwell(t *testing.T) {
	if err := ValidDwell("duration_seconds", 30)(); err != nil {
		t.Errorf("Expected 30s dwell valid, got %v", err)
	}
	if err := ValidDwell("duration_seconds", 0)(); err == nil {
		t.Error("Expected zero dwell rejected")
	}
	if err := ValidDwell("duration_seconds", -5)(); err == nil {
		t.Error("Expected negative dwell rejected")
	}
	if err := ValidDwell("duration_seconds", MaxDwellSeconds)(); err == nil {
		t.Error("Expected 1h dwell rejected")
	}
	if err := ValidDwell("duration_seconds", MaxDwellSeconds-1)(); err != nil {
		t.Errorf("Expected just-under-cap dwell valid, got %v", err)
	}
}

func TestValidAmount(t *testing.T) {
	valid := []string{"0.50", "1", "100.000000", ""}
	for _, v := range valid {
		if err := ValidAmount("amount", v)(); err != nil {
			t.Errorf("Expected %q valid, got %v", v, err)
		}
	}

	invalid := []string{"-1", "1.2.3", ".5", "5.", "abc", "0", "0.00"}
	for _, v := range invalid {
		if err := ValidAmount("amount", v)(); err == nil {
			t.Errorf("Expected %q invalid", v)
		}
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("identity_key", ""),
		ValidAddress("identity_key", "not-an-address"),
		MaxLength("content_id", strings.Repeat("x", 300), MaxContentIDLength),
	)
	if len(errs) != 3 {
		t.Fatalf("Expected 3 validation errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "identity_key" {
		t.Errorf("Expected first error on identity_key, got %s", errs[0].Field)
	}
}

func TestAddressParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	group := router.Group("/v1")
	group.Use(AddressParamMiddleware())
	group.GET("/identities/:address/session", func(c *gin.Context) {
		c.String(200, "ok")
	})

	// Valid address passes through
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/identities/0xaaaa000000000000000000000000000000000001/session", nil)
	router.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("Expected 200 for valid address, got %d", w.Code)
	}

	// Malformed address rejected early
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/identities/garbage/session", nil)
	router.ServeHTTP(w, req)
	if w.Code != 400 {
		t.Errorf("Expected 400 for malformed address, got %d", w.Code)
	}
}
