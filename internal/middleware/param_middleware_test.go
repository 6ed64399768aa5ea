package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSessionCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"валидный код", "AB12CD", "AB12CD"},
		{"нижний регистр приводится к верхнему", "ab12cd", "AB12CD"},
		{"пробелы по краям обрезаются", "  AB12CD  ", "AB12CD"},
		{"слишком короткий", "AB12", ""},
		{"слишком длинный", "AB12CD7", ""},
		{"недопустимые символы", "AB-2CD", ""},
		{"кириллица", "АБ12ВГ", ""},
		{"пустая строка", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSessionCode(tt.code))
		})
	}
}

func TestValidUserID(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   bool
	}{
		{"буквы и цифры", "user123", true},
		{"дефис и подчеркивание", "user_1-a", true},
		{"один символ", "u", true},
		{"максимальная длина", string(make128('a')), true},
		{"пустой", "", false},
		{"слишком длинный", string(make128('a')) + "b", false},
		{"пробел", "user 1", false},
		{"спецсимволы", "user@host", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidUserID(tt.userID))
		})
	}
}

func make128(c byte) []byte {
	b := make([]byte, 128)
	for i := range b {
		b[i] = c
	}
	return b
}
