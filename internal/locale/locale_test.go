package locale

import "testing"

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromEnv_Precedence(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"none", map[string]string{}, ""},
		{"lang only", map[string]string{"LANG": "en_US.UTF-8"}, "en_US.UTF-8"},
		{"ctype beats lang", map[string]string{"LANG": "C", "LC_CTYPE": "de_DE.UTF-8"}, "de_DE.UTF-8"},
		{"all beats everything", map[string]string{"LANG": "en_US.UTF-8", "LC_CTYPE": "en_US.UTF-8", "LC_ALL": "C"}, "C"},
		{"empty values skipped", map[string]string{"LC_ALL": "", "LANG": "C.UTF-8"}, "C.UTF-8"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := FromEnv(envMap(tc.env))
			if s.Name != tc.want {
				t.Errorf("Name = %q, want %q", s.Name, tc.want)
			}
		})
	}
}

func TestFromEnv_DisableStdin(t *testing.T) {
	s := FromEnv(envMap(map[string]string{EnvDisableStdin: "1"}))
	if !s.StdinDisabled {
		t.Error("StdinDisabled = false, want true")
	}

	s = FromEnv(envMap(map[string]string{EnvDisableStdin: ""}))
	if s.StdinDisabled {
		t.Error("StdinDisabled = true for empty value, want false")
	}
}

func TestSettings_IsUTF8(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"en_US.UTF-8", true},
		{"en_US.utf8", true},
		{"C.UTF-8", true},
		{"de_DE.UTF-8@euro", true},
		{"C", false},
		{"POSIX", false},
		{"", false},
		{"en_US.ISO-8859-1", false},
		{"ja_JP.eucJP", false},
		{"xx_XX.not-a-charset", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Settings{Name: tc.name}
			if got := s.IsUTF8(); got != tc.want {
				t.Errorf("IsUTF8(%q) = %v, want %v (charset %q)", tc.name, got, tc.want, s.Charset())
			}
		})
	}
}

func TestSettings_Charset(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"en_US.UTF-8", "UTF-8"},
		{"de_DE.UTF-8@euro", "UTF-8"},
		{"C", asciiCharset},
		{"en_US.", asciiCharset},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := (Settings{Name: tc.name}).Charset(); got != tc.want {
				t.Errorf("Charset() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSettings_String(t *testing.T) {
	if got := (Settings{}).String(); got != "C" {
		t.Errorf("String() = %q, want C", got)
	}
	if got := (Settings{Name: "en_US.UTF-8"}).String(); got != "en_US.UTF-8" {
		t.Errorf("String() = %q, want en_US.UTF-8", got)
	}
}
