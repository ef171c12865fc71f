package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy message", errors.New("exec: SQLITE_BUSY"), true},
		{"locked message", fmt.Errorf("put value: %w", errors.New("database is locked")), true},
		{"other", errors.New("no such table"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("%s: IsSQLiteConflictError() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
