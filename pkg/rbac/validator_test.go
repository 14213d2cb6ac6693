package rbac

import "testing"

func TestValidatorTenant(t *testing.T) {
	v := NewValidator()

	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid uuidv4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", false},
		{"upper case is normalized", "F47AC10B-58CC-4372-A567-0E02B2C3D479", false},
		{"not a uuid", "not-a-uuid", true},
		{"uuidv1 rejected", "f47ac10b-58cc-1372-a567-0e02b2c3d479", true},
		{"empty", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := v.Tenant(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Tenant(%q): expected error, got none", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Tenant(%q): unexpected error: %v", tc.raw, err)
			}
			if got != "f47ac10b-58cc-4372-a567-0e02b2c3d479" {
				t.Errorf("Tenant(%q) = %q, want canonical lower-case form", tc.raw, got)
			}
		})
	}
}

func TestValidatorRoleName(t *testing.T) {
	v := NewValidator()

	valid := []string{"admin", "billing-manager", "a", "role_123"}
	for _, name := range valid {
		if err := v.RoleName(name); err != nil {
			t.Errorf("RoleName(%q): unexpected error: %v", name, err)
		}
	}

	invalid := []string{
		"",
		"has spaces",
		"semi;colon",
		"'; DROP TABLE auth_role; --",
		"select * from auth_role",
		"a/b",
	}
	for _, name := range invalid {
		if err := v.RoleName(name); err == nil {
			t.Errorf("RoleName(%q): expected error, got none", name)
		}
	}
}

func TestValidatorPermissionNameAllowsLongerNames(t *testing.T) {
	v := NewValidator()

	long := ""
	for i := 0; i < 128; i++ {
		long += "a"
	}
	if err := v.PermissionName(long); err != nil {
		t.Errorf("PermissionName(128 chars): unexpected error: %v", err)
	}

	tooLong := long + "a"
	if err := v.PermissionName(tooLong); err == nil {
		t.Errorf("PermissionName(129 chars): expected error, got none")
	}
}

func TestValidatorRejectsSQLTokensEvenWhenShapeMatches(t *testing.T) {
	v := NewValidator()

	// "union" and "select" are valid under the charset regex alone, so the
	// SQL-token deny-list must catch them as a second pass.
	for _, name := range []string{"union", "select", "drop"} {
		if err := v.RoleName(name); err == nil {
			t.Errorf("RoleName(%q): expected disallowed-token error, got none", name)
		}
	}
}

func TestSanitizeStripsDisallowedBytes(t *testing.T) {
	cases := map[string]string{
		"admin":               "admin",
		"admin'; DROP TABLE":  "adminDROPTABLE",
		"a b-c_d":             "ab-c_d",
		"":                    "",
		"日本語role":            "role",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
